package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/clearance-api/internal/models"
	"github.com/noah-isme/clearance-api/internal/repository"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest provisions a student, staff or admin account.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	FullName string          `json:"full_name" validate:"required"`
	Role     models.UserRole `json:"role" validate:"required"`
	Active   bool            `json:"active"`
	Password string          `json:"password" validate:"required,min=6"`
	// DepartmentName binds a department head to one academic department.
	DepartmentName string `json:"department_name"`
	// BlockNo binds dormitory staff to one residence block.
	BlockNo string `json:"block_no"`
}

// UpdateUserRequest replaces name, role and scope. Active is left alone when omitted.
type UpdateUserRequest struct {
	FullName       string          `json:"full_name" validate:"required"`
	Role           models.UserRole `json:"role" validate:"required"`
	Active         *bool           `json:"active"`
	DepartmentName string          `json:"department_name"`
	BlockNo        string          `json:"block_no"`
}

// UserService manages accounts and the department or block they act for.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// List returns one page of accounts.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.load(ctx, id)
}

// Create adds an account. Emails are stored lower-cased.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validate(req, req.Role); err != nil {
		return nil, err
	}
	departmentName, blockNo, err := staffScope(req.Role, req.DepartmentName, req.BlockNo)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	switch _, err := s.repo.FindByEmail(ctx, email); {
	case err == nil:
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		ID:             uuid.NewString(),
		Email:          email,
		FullName:       strings.TrimSpace(req.FullName),
		Role:           req.Role,
		DepartmentName: departmentName,
		BlockNo:        blockNo,
		Active:         req.Active,
		PasswordHash:   string(hash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	s.audit(ctx, models.NewAuditEntry(actorID, models.AuditActionUserCreate, "users", user.ID).
		WithValues(nil, accountSnapshot(user)).
		From(meta))
	return user, nil
}

// Update rewrites an account. A role change clears any scope the new role
// cannot carry.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validate(req, req.Role); err != nil {
		return nil, err
	}
	departmentName, blockNo, err := staffScope(req.Role, req.DepartmentName, req.BlockNo)
	if err != nil {
		return nil, err
	}
	if id == actorID && req.Active != nil && !*req.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate your own account")
	}

	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := accountSnapshot(user)

	user.FullName = strings.TrimSpace(req.FullName)
	user.Role = req.Role
	user.DepartmentName = departmentName
	user.BlockNo = blockNo
	if req.Active != nil {
		user.Active = *req.Active
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Internal(err, "failed to update user")
	}

	s.audit(ctx, models.NewAuditEntry(actorID, models.AuditActionUserUpdate, "users", user.ID).
		WithValues(before, accountSnapshot(user)).
		From(meta))
	return user, nil
}

// Delete deactivates an account. Decisions it recorded stay attributed to it.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate your own account")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete user")
	}

	s.audit(ctx, models.NewAuditEntry(actorID, models.AuditActionUserDelete, "users", user.ID).
		WithValues(map[string]bool{"active": user.Active}, map[string]bool{"active": false}).
		From(meta))
	return nil
}

func (s *UserService) validate(req interface{}, role models.UserRole) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid user payload")
	}
	if !role.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown role "+string(role))
	}
	return nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	case err != nil:
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

func (s *UserService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func accountSnapshot(u *models.User) map[string]interface{} {
	return map[string]interface{}{
		"email":           u.Email,
		"role":            u.Role,
		"active":          u.Active,
		"department_name": u.DepartmentName,
		"block_no":        u.BlockNo,
	}
}

// staffScope keeps department_name on heads and block_no on dormitory staff.
func staffScope(role models.UserRole, departmentName, blockNo string) (*string, *string, error) {
	dept := optionalString(departmentName)
	block := optionalString(blockNo)
	if dept != nil && role != models.RoleDepartmentHead {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "department_name applies to DEPARTMENT_HEAD accounts only")
	}
	if block != nil && role != models.RoleDormitory {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "block_no applies to DORMITORY accounts only")
	}
	return dept, block, nil
}
