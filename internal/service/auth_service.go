package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
)

const (
	refreshTokenBytes     = 32
	passwordResetAudience = "password-reset"
	defaultResetTTL       = 15 * time.Minute
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	SingleSession      bool
	// PasswordResetExpiry bounds how long an issued reset code is accepted.
	PasswordResetExpiry time.Duration
}

// PasswordResetNotifier hands a reset code to the account holder.
type PasswordResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *models.User, code string, expiresAt time.Time) error
}

// logResetNotifier records that a code was issued without exposing it.
type logResetNotifier struct {
	logger *zap.Logger
}

func (n logResetNotifier) SendPasswordReset(ctx context.Context, user *models.User, code string, expiresAt time.Time) error {
	n.logger.Info("password reset issued; no delivery channel configured",
		zap.String("user_id", user.ID),
		zap.Time("expires_at", expiresAt))
	return nil
}

// resetClaims binds a reset code to the password hash it was issued
// against, so the code stops working once the password changes.
type resetClaims struct {
	Fingerprint string `json:"fpr"`
	jwt.RegisteredClaims
}

// AuthServiceOption configures optional collaborators.
type AuthServiceOption func(*AuthService)

// WithPasswordResetNotifier sets the delivery channel for reset codes.
func WithPasswordResetNotifier(notifier PasswordResetNotifier) AuthServiceOption {
	return func(s *AuthService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// AuthService signs students, staff and admins in and out.
type AuthService struct {
	repo      authUserRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	parser    *jwt.Parser
	reset     *jwt.Parser
	notifier  PasswordResetNotifier
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, validate *validator.Validate, logger *zap.Logger, config AuthConfig, options ...AuthServiceOption) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.PasswordResetExpiry <= 0 {
		config.PasswordResetExpiry = defaultResetTTL
	}
	resetOpts := append([]jwt.ParserOption{jwt.WithAudience(passwordResetAudience)}, opts...)
	svc := &AuthService{
		repo:      repo,
		validator: validate,
		logger:    logger,
		config:    config,
		parser:    jwt.NewParser(opts...),
		reset:     jwt.NewParser(resetOpts...),
		notifier:  logResetNotifier{logger: logger},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

type session struct {
	access   string
	refresh  *models.RefreshToken
	issuedAt time.Time
}

// Login checks credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	case err != nil:
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if s.config.SingleSession {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke previous sessions", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	sess, err := s.openSession(ctx, user, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, sess.issuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.audit(ctx, models.NewAuditEntry(user.ID, models.AuditActionLogin, "auth", user.ID).
		WithValues(nil, map[string]interface{}{"role": user.Role}).
		From(req))

	return &models.LoginResponse{
		AccessToken:  sess.access,
		RefreshToken: sess.refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     sess.issuedAt,
		User:         models.UserInfoFrom(user),
	}, nil
}

// RefreshToken rotates a refresh token. The presented token is revoked even
// when issuing the replacement fails.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid refresh payload")
	}

	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
	case err != nil:
		return nil, appErrors.Internal(err, "failed to fetch refresh token")
	}
	if !stored.Usable(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	user, err := s.activeUser(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		s.logger.Warn("failed to revoke used refresh token", zap.String("token_id", stored.ID), zap.Error(err))
	}

	origin := models.LoginRequest{IP: req.IP, UserAgent: req.UserAgent}
	sess, err := s.openSession(ctx, user, origin)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, models.NewAuditEntry(user.ID, models.AuditActionTokenRefresh, "auth", user.ID).
		WithValues(map[string]string{"token_id": stored.ID}, map[string]string{"token_id": sess.refresh.ID}).
		From(origin))

	return &models.RefreshTokenResponse{
		AccessToken:  sess.access,
		RefreshToken: sess.refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     sess.issuedAt,
	}, nil
}

// Logout revokes one of the caller's refresh tokens.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, userID string, meta models.LoginRequest) error {
	stored, err := s.repo.FindRefreshToken(ctx, refreshToken)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
	case err != nil:
		return appErrors.Internal(err, "failed to load refresh token")
	}
	if stored.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		return appErrors.Internal(err, "failed to revoke refresh token")
	}
	s.audit(ctx, models.NewAuditEntry(userID, models.AuditActionLogout, "auth", userID).From(meta))
	return nil
}

// ChangePassword replaces the caller's password and ends every open session.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid change password payload")
	}
	if req.OldPassword == req.NewPassword {
		return appErrors.Clone(appErrors.ErrValidation, "new password must differ from the current one")
	}

	user, err := s.repo.FindByID(ctx, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	case err != nil:
		return appErrors.Internal(err, "failed to load user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, userID, string(hash), s.now()); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.String("user_id", userID), zap.Error(err))
	}

	s.audit(ctx, models.NewAuditEntry(userID, models.AuditActionPasswordChange, "auth", userID))
	return nil
}

// RequestPasswordReset issues a reset code for an active account. Unknown and
// inactive emails succeed silently so callers cannot enumerate accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, req models.PasswordResetRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid password reset payload")
	}
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return appErrors.Internal(err, "failed to fetch user")
	}
	if user == nil || !user.Active {
		return nil
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.PasswordResetExpiry)
	claims := &resetClaims{
		Fingerprint: passwordFingerprint(user.PasswordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{passwordResetAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	code, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.resetKey())
	if err != nil {
		return appErrors.Internal(err, "failed to create reset code")
	}
	if err := s.notifier.SendPasswordReset(ctx, user, code, expiresAt); err != nil {
		s.logger.Warn("failed to deliver password reset", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword sets a new password from a reset code and ends every open session.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ConfirmPasswordResetRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid password reset payload")
	}
	claims := &resetClaims{}
	if _, err := s.reset.ParseWithClaims(req.Token, claims, func(*jwt.Token) (interface{}, error) {
		return s.resetKey(), nil
	}); err != nil || claims.Subject == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired reset code")
	}

	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if claims.Fingerprint != passwordFingerprint(user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "reset code already used")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash), s.now()); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.audit(ctx, models.NewAuditEntry(user.ID, models.AuditActionPasswordReset, "auth", user.ID))
	return nil
}

// Profile returns the current stored view of the token's account.
func (s *AuthService) Profile(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := models.UserInfoFrom(user)
	return &info, nil
}

// ValidateToken parses an HS256 access token into claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) activeUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
	case err != nil:
		return nil, appErrors.Internal(err, "failed to load account")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return user, nil
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, origin models.LoginRequest) (*session, error) {
	access, _, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}

	issuedAt := s.now()
	refresh := models.NewRefreshToken(user.ID, base64.RawURLEncoding.EncodeToString(buf), s.config.RefreshTokenExpiry, origin, issuedAt)
	if err := s.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, appErrors.Internal(err, "failed to persist refresh token")
	}
	return &session{access: access, refresh: refresh, issuedAt: issuedAt}, nil
}

// generateAccessToken signs the claims the clearance routes read, including
// the department or block a staff account is scoped to.
func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:         user.ID,
		Role:           user.Role,
		Email:          user.Email,
		FullName:       user.FullName,
		DepartmentName: user.DepartmentName,
		BlockNo:        user.BlockNo,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// resetKey keeps reset codes and access tokens from verifying as each other.
func (s *AuthService) resetKey() []byte {
	return []byte(s.config.AccessTokenSecret + ":" + passwordResetAudience)
}

func passwordFingerprint(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}

func (s *AuthService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
