package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// PasswordResetRequest starts a reset for the account behind Email.
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConfirmPasswordResetRequest completes a reset with the issued code.
type ConfirmPasswordResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	FullName       string   `json:"full_name"`
	Role           UserRole `json:"role"`
	DepartmentName *string  `json:"department_name,omitempty"`
	BlockNo        *string  `json:"block_no,omitempty"`
}

// JWTClaims is the access token payload. Staff tokens carry the scope their
// queue is narrowed by.
type JWTClaims struct {
	UserID         string   `json:"user_id"`
	Role           UserRole `json:"role"`
	Email          string   `json:"email"`
	FullName       string   `json:"full_name"`
	DepartmentName *string  `json:"department_name,omitempty"`
	BlockNo        *string  `json:"block_no,omitempty"`
	jwt.RegisteredClaims
}

// Info projects the claims into the public user shape.
func (c *JWTClaims) Info() UserInfo {
	return UserInfo{
		ID:             c.UserID,
		Email:          c.Email,
		FullName:       c.FullName,
		Role:           c.Role,
		DepartmentName: c.DepartmentName,
		BlockNo:        c.BlockNo,
	}
}

// UserInfoFrom builds the public user shape from a stored account.
func UserInfoFrom(u *User) UserInfo {
	return UserInfo{
		ID:             u.ID,
		Email:          u.Email,
		FullName:       u.FullName,
		Role:           u.Role,
		DepartmentName: u.DepartmentName,
		BlockNo:        u.BlockNo,
	}
}
