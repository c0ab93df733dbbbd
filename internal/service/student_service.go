package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/models"
	"github.com/noah-isme/clearance-api/internal/repository"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/export"
)

// StudentImportColumns are the CSV headers every import must carry.
var StudentImportColumns = []string{"first_name", "last_name", "email", "id_no", "department_name", "study_level", "year_of_study"}

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
	StudyLevel(ctx context.Context, studentID string) (models.StudyLevel, error)
	ExistsByIDNo(ctx context.Context, idNo string) (bool, error)
	CreateWithAccount(ctx context.Context, user *models.User, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
}

// UpdateStudentRequest holds payload for updating a student profile.
type UpdateStudentRequest struct {
	FirstName      string            `json:"first_name" validate:"required"`
	LastName       string            `json:"last_name" validate:"required"`
	DepartmentName string            `json:"department_name" validate:"required"`
	StudyLevel     models.StudyLevel `json:"study_level" validate:"required,oneof=UNDERGRADUATE MASTERS PHD"`
	YearOfStudy    int               `json:"year_of_study" validate:"required,min=1,max=10"`
	BlockNo        string            `json:"block_no"`
	RoomNo         string            `json:"room_no"`
}

// StudentService handles student directory use-cases.
type StudentService struct {
	repo         studentRepository
	audit        auditLogger
	validator    *validator.Validate
	logger       *zap.Logger
	maxRows      int
	passwordCost int
}

// StudentServiceOption configures the service.
type StudentServiceOption func(*StudentService)

// WithImportLimit caps the number of rows accepted per CSV import.
func WithImportLimit(rows int) StudentServiceOption {
	return func(s *StudentService) {
		if rows > 0 {
			s.maxRows = rows
		}
	}
}

// WithPasswordCost overrides the bcrypt cost used for imported accounts.
func WithPasswordCost(cost int) StudentServiceOption {
	return func(s *StudentService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.passwordCost = cost
		}
	}
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...StudentServiceOption) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &StudentService{
		repo:         repo,
		audit:        audit,
		validator:    validate,
		logger:       logger,
		maxRows:      5000,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if filter.StudyLevel != nil && !filter.StudyLevel.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown study level")
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return students, pagination, nil
}

// Get returns detailed student information.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Storage(err, "failed to load student")
	}
	return student, nil
}

// GetByUser returns the profile linked to a login account.
func (s *StudentService) GetByUser(ctx context.Context, userID string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Storage(err, "failed to load student")
	}
	return student, nil
}

// StudyLevel returns the study level that decides which departments apply.
func (s *StudentService) StudyLevel(ctx context.Context, studentID string) (models.StudyLevel, error) {
	level, err := s.repo.StudyLevel(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return "", appErrors.Storage(err, "failed to load study level")
	}
	return level, nil
}

// Update modifies an existing student profile. Existing requests keep the
// study level they were submitted with.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid student payload")
	}
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	student := detail.Student
	student.FirstName = strings.TrimSpace(req.FirstName)
	student.LastName = strings.TrimSpace(req.LastName)
	student.DepartmentName = strings.TrimSpace(req.DepartmentName)
	student.StudyLevel = req.StudyLevel
	student.YearOfStudy = req.YearOfStudy
	student.BlockNo = optionalString(req.BlockNo)
	student.RoomNo = optionalString(req.RoomNo)
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Storage(err, "failed to update student")
	}
	return &student, nil
}

// Import registers students from a CSV upload. Each valid row creates a
// STUDENT account whose initial password is the id number; invalid rows are
// reported and skipped without aborting the rest.
func (s *StudentService) Import(ctx context.Context, r io.Reader, actorID string) (*dto.ImportResult, error) {
	dataset, err := export.ReadDataset(r, StudentImportColumns, s.maxRows)
	if err != nil {
		return nil, appErrors.Invalid(err, err.Error())
	}

	result := &dto.ImportResult{TotalRows: len(dataset.Rows), Errors: []dto.ImportRowError{}}
	seen := make(map[string]int, len(dataset.Rows))
	for i, row := range dataset.Rows {
		rowNo := i + 2
		idNo := row["id_no"]
		if first, dup := seen[strings.ToUpper(idNo)]; dup && idNo != "" {
			result.Errors = append(result.Errors, dto.ImportRowError{Row: rowNo, IDNo: idNo, Message: fmt.Sprintf("duplicate id_no, first seen on row %d", first)})
			continue
		}
		seen[strings.ToUpper(idNo)] = rowNo

		user, student, msg := s.parseImportRow(row)
		if msg != "" {
			result.Errors = append(result.Errors, dto.ImportRowError{Row: rowNo, IDNo: idNo, Message: msg})
			continue
		}
		exists, err := s.repo.ExistsByIDNo(ctx, student.IDNo)
		if err != nil {
			return nil, appErrors.Storage(err, "failed to check student id number")
		}
		if exists {
			result.Skipped++
			result.Errors = append(result.Errors, dto.ImportRowError{Row: rowNo, IDNo: idNo, Message: "student already registered"})
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(student.IDNo), s.passwordCost)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to hash password")
		}
		user.PasswordHash = string(hash)
		if err := s.repo.CreateWithAccount(ctx, user, student); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				result.Skipped++
				result.Errors = append(result.Errors, dto.ImportRowError{Row: rowNo, IDNo: idNo, Message: "email or id_no already registered"})
				continue
			}
			return nil, appErrors.Storage(err, "failed to create student")
		}
		result.Imported++
	}

	payload, _ := json.Marshal(map[string]interface{}{"total": result.TotalRows, "imported": result.Imported, "failed": len(result.Errors)})
	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:    &actorID,
			Action:    models.AuditActionStudentImport,
			Resource:  "students",
			NewValues: payload,
			IPAddress: "system",
			UserAgent: "student-service",
		}); err != nil {
			s.logger.Warn("failed to persist audit log", zap.String("action", models.AuditActionStudentImport), zap.Error(err))
		}
	}
	s.logger.Info("student import finished",
		zap.Int("total", result.TotalRows),
		zap.Int("imported", result.Imported),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *StudentService) parseImportRow(row map[string]string) (*models.User, *models.Student, string) {
	var missing []string
	for _, col := range StudentImportColumns {
		if row[col] == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, nil, "missing " + strings.Join(missing, ", ")
	}
	email := strings.ToLower(row["email"])
	if err := s.validator.Var(email, "email"); err != nil {
		return nil, nil, "invalid email"
	}
	level, ok := models.ParseStudyLevel(row["study_level"])
	if !ok {
		return nil, nil, fmt.Sprintf("unknown study level %q", row["study_level"])
	}
	year, err := strconv.Atoi(row["year_of_study"])
	if err != nil || year < 1 || year > 10 {
		return nil, nil, "year_of_study must be between 1 and 10"
	}

	student := &models.Student{
		IDNo:           row["id_no"],
		FirstName:      row["first_name"],
		LastName:       row["last_name"],
		DepartmentName: row["department_name"],
		StudyLevel:     level,
		YearOfStudy:    year,
		BlockNo:        optionalString(row["block_no"]),
		RoomNo:         optionalString(row["room_no"]),
	}
	user := &models.User{
		Email:    email,
		FullName: student.FullName(),
		Role:     models.RoleStudent,
		Active:   true,
	}
	return user, student, ""
}
