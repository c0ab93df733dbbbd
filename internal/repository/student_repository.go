package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clearance-api/internal/models"
)

const studentDetailColumns = `s.id, s.user_id, s.id_no, s.first_name, s.last_name, s.department_name, s.study_level,
        s.year_of_study, s.block_no, s.room_no, s.created_at, s.updated_at, u.email, u.active`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s JOIN users u ON u.id = s.user_id"
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.DepartmentName != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(s.department_name) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.DepartmentName))
	}
	if filter.StudyLevel != nil {
		conditions = append(conditions, fmt.Sprintf("s.study_level = $%d", len(args)+1))
		args = append(args, *filter.StudyLevel)
	}
	if filter.BlockNo != "" {
		conditions = append(conditions, fmt.Sprintf("s.block_no = $%d", len(args)+1))
		args = append(args, filter.BlockNo)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.first_name || ' ' || s.last_name) LIKE $%d OR LOWER(s.id_no) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"first_name":    "s.first_name",
		"last_name":     "s.last_name",
		"id_no":         "s.id_no",
		"year_of_study": "s.year_of_study",
		"created_at":    "s.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "s.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, studentDetailColumns, base, column, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	return r.findOne(ctx, "s.id = $1", id)
}

// FindByUserID fetches the student profile owned by an account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	return r.findOne(ctx, "s.user_id = $1", userID)
}

func (r *StudentRepository) findOne(ctx context.Context, condition string, arg string) (*models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM students s JOIN users u ON u.id = s.user_id
        WHERE %s`, studentDetailColumns, condition)
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, arg); err != nil {
		return nil, err
	}
	return &detail, nil
}

// StudyLevel returns the programme level of a student.
func (r *StudentRepository) StudyLevel(ctx context.Context, studentID string) (models.StudyLevel, error) {
	const query = `SELECT study_level FROM students WHERE id = $1`
	var level models.StudyLevel
	if err := r.db.GetContext(ctx, &level, query, studentID); err != nil {
		return "", err
	}
	return level, nil
}

// ExistsByIDNo checks if a student with the given university id number exists.
func (r *StudentRepository) ExistsByIDNo(ctx context.Context, idNo string) (bool, error) {
	const query = "SELECT 1 FROM students WHERE id_no = $1 LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, idNo); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check id_no: %w", err)
	}
	return true, nil
}

// CreateWithAccount inserts the login account and the student profile in one transaction.
func (r *StudentRepository) CreateWithAccount(ctx context.Context, user *models.User, student *models.Student) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.UserID = user.ID
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create student: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	const userQuery = `INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, userQuery, user.ID, user.Email, user.PasswordHash, user.FullName, user.Role, user.Active, user.CreatedAt, user.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create student account: %w", ErrDuplicate)
		}
		return fmt.Errorf("create student account: %w", err)
	}

	const studentQuery = `INSERT INTO students (id, user_id, id_no, first_name, last_name, department_name, study_level, year_of_study, block_no, room_no, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := tx.ExecContext(ctx, studentQuery, student.ID, student.UserID, student.IDNo, student.FirstName, student.LastName, student.DepartmentName,
		student.StudyLevel, student.YearOfStudy, student.BlockNo, student.RoomNo, student.CreatedAt, student.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create student: %w", ErrDuplicate)
		}
		return fmt.Errorf("create student: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create student: %w", err)
	}
	commit = true
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET first_name = :first_name, last_name = :last_name, department_name = :department_name, study_level = :study_level,
        year_of_study = :year_of_study, block_no = :block_no, room_no = :room_no, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}
