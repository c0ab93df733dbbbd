package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin     UserRole = "SUPERADMIN"
	RoleAdmin          UserRole = "ADMIN"
	RoleStudent        UserRole = "STUDENT"
	RoleDepartmentHead UserRole = "DEPARTMENT_HEAD"
	RoleLibrarian      UserRole = "LIBRARIAN"
	RoleCafeteria      UserRole = "CAFETERIA"
	RoleDormitory      UserRole = "DORMITORY"
	RoleSport          UserRole = "SPORT"
	RoleStudentAffair  UserRole = "STUDENT_AFFAIR"
	RoleRegistrar      UserRole = "REGISTRAR"
)

// StaffRoles lists every role that acts on behalf of a clearance department.
var StaffRoles = []UserRole{
	RoleDepartmentHead,
	RoleLibrarian,
	RoleCafeteria,
	RoleDormitory,
	RoleSport,
	RoleStudentAffair,
	RoleRegistrar,
}

// Valid reports whether the role is known.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleStudent:
		return true
	}
	return r.IsStaff()
}

// IsStaff reports whether the role belongs to a clearance department.
func (r UserRole) IsStaff() bool {
	for _, role := range StaffRoles {
		if role == r {
			return true
		}
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	FullName       string     `db:"full_name" json:"full_name"`
	Role           UserRole   `db:"role" json:"role"`
	DepartmentName *string    `db:"department_name" json:"department_name,omitempty"`
	BlockNo        *string    `db:"block_no" json:"block_no,omitempty"`
	Active         bool       `db:"active" json:"active"`
	LastLogin      *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role           *UserRole
	StaffOnly      bool
	DepartmentName string
	Active         *bool
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination normalises the requested page the same way the repositories
// clamp their LIMIT and OFFSET.
func NewPagination(page, pageSize, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = 20
	case pageSize > 100:
		pageSize = 100
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
