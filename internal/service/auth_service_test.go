package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail         *models.User
	userByID            *models.User
	findByEmailErr      error
	findByIDErr         error
	refreshTokens       map[string]*models.RefreshToken
	refreshTokenErr     error
	createRefreshErr    error
	revokeRefreshErr    error
	revokeUserTokensErr error
	updatePasswordErr   error
	auditLogs           []*models.AuditLog
	lastLoginUpdated    bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if m.userByID != nil {
		return m.userByID, nil
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return m.revokeUserTokensErr
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.refreshTokenErr != nil {
		return nil, m.refreshTokenErr
	}
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if m.revokeRefreshErr != nil {
		return m.revokeRefreshErr
	}
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newTestAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "clearance-api",
	})
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "registrar@uni.edu", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleRegistrar}}
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "registrar@uni.edu", Password: "password", IP: "10.1.1.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.True(t, repo.lastLoginUpdated)
	require.Contains(t, repo.refreshTokens, res.RefreshToken)
	assert.Equal(t, "10.1.1.1", repo.refreshTokens[res.RefreshToken].IPAddress)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "lib@uni.edu", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleLibrarian}}
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "lib@uni.edu", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.refreshTokens)

	repo.findByEmailErr = sql.ErrNoRows
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ghost@uni.edu", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginReturnsStaffScope(t *testing.T) {
	block := "C"
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "d1", Email: "dorm@uni.edu", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleDormitory, BlockNo: &block}}
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "dorm@uni.edu", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleDormitory, res.User.Role)
	require.NotNil(t, res.User.BlockNo)
	assert.Equal(t, "C", *res.User.BlockNo)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDormitory, claims.Role)
	require.NotNil(t, claims.BlockNo)
	assert.Equal(t, "C", *claims.BlockNo)
	assert.Equal(t, res.User, claims.Info())
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "old@uni.edu", PasswordHash: hashed(t, "password"), Active: false}}
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "old@uni.edu", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	user := &models.User{ID: "u1", Email: "student@uni.edu", Active: true, Role: models.RoleStudent}
	repo := &mockAuthRepo{userByEmail: user, userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newTestAuthService(repo)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionTokenRefresh, repo.auditLogs[0].Action)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshTokenExpired(t *testing.T) {
	user := &models.User{ID: "u1", Active: true, Role: models.RoleStudent}
	repo := &mockAuthRepo{userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"stale": {ID: "rt1", UserID: user.ID, Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	svc := newTestAuthService(repo)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.refreshTokens, 1)
}

func TestAuthServiceLogoutOtherUsersToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "owner", Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newTestAuthService(repo)

	err := svc.Logout(context.Background(), "token", "intruder", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.refreshTokens["token"].Revoked)

	require.NoError(t, svc.Logout(context.Background(), "token", "owner", models.LoginRequest{}))
	assert.True(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashed(t, "oldpassword")
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", PasswordHash: oldHash, Active: true}}
	svc := newTestAuthService(repo)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "wrongpass", NewPassword: "newpassword"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "oldpassword", NewPassword: "oldpassword"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "oldpassword", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.userByEmail.PasswordHash)
}

func TestValidateToken(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{})
	user := &models.User{ID: "u1", Email: "admin@uni.edu", Role: models.RoleAdmin}
	token, expiresAt, err := svc.generateAccessToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	cases := map[string]func(*AuthService){
		"expired":      func(s *AuthService) { s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) } },
		"other issuer": func(s *AuthService) { s.config.Issuer = "someone-else" },
		"other secret": func(s *AuthService) { s.config.AccessTokenSecret = "different" },
	}
	for name, tweak := range cases {
		t.Run(name, func(t *testing.T) {
			issuer := newTestAuthService(&mockAuthRepo{})
			tweak(issuer)
			foreign, _, err := issuer.generateAccessToken(user)
			require.NoError(t, err)

			_, err = svc.ValidateToken(foreign)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestAuthServiceProfile(t *testing.T) {
	dept := "Computer Science"
	repo := &mockAuthRepo{userByID: &models.User{ID: "h1", Email: "head@uni.edu", Role: models.RoleDepartmentHead, DepartmentName: &dept, Active: true}}
	svc := newTestAuthService(repo)

	info, err := svc.Profile(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleDepartmentHead, info.Role)
	require.NotNil(t, info.DepartmentName)
	assert.Equal(t, dept, *info.DepartmentName)

	repo.userByID.Active = false
	_, err = svc.Profile(context.Background(), "h1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)

	repo.findByIDErr = sql.ErrNoRows
	_, err = svc.Profile(context.Background(), "h1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

type resetNotifierStub struct {
	codes []string
}

func (n *resetNotifierStub) SendPasswordReset(ctx context.Context, user *models.User, code string, expiresAt time.Time) error {
	n.codes = append(n.codes, code)
	return nil
}

func TestAuthServicePasswordReset(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "student@uni.edu", PasswordHash: hashed(t, "oldpassword"), Active: true}}
	notifier := &resetNotifierStub{}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "clearance-api",
	}, WithPasswordResetNotifier(notifier))
	ctx := context.Background()

	require.NoError(t, svc.RequestPasswordReset(ctx, models.PasswordResetRequest{Email: " Student@uni.edu "}))
	require.Len(t, notifier.codes, 1)
	code := notifier.codes[0]

	access, _, err := svc.generateAccessToken(repo.userByEmail)
	require.NoError(t, err)
	for name, token := range map[string]string{"garbage": "not-a-code", "access token": access} {
		err := svc.ResetPassword(ctx, models.ConfirmPasswordResetRequest{Token: token, NewPassword: "newpassword"})
		assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code, name)
	}
	_, err = svc.ValidateToken(code)
	require.Error(t, err, "reset codes are not access tokens")

	require.NoError(t, svc.ResetPassword(ctx, models.ConfirmPasswordResetRequest{Token: code, NewPassword: "newpassword"}))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.userByEmail.PasswordHash), []byte("newpassword")))
	require.NotEmpty(t, repo.auditLogs)
	assert.Equal(t, models.AuditActionPasswordReset, repo.auditLogs[len(repo.auditLogs)-1].Action)

	err = svc.ResetPassword(ctx, models.ConfirmPasswordResetRequest{Token: code, NewPassword: "thirdpassword"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code, "code is single use")
}

func TestAuthServicePasswordResetSilentForUnknownAccounts(t *testing.T) {
	notifier := &resetNotifierStub{}
	repo := &mockAuthRepo{findByEmailErr: sql.ErrNoRows}
	svc := NewAuthService(repo, nil, nil, AuthConfig{AccessTokenSecret: "secret"}, WithPasswordResetNotifier(notifier))

	require.NoError(t, svc.RequestPasswordReset(context.Background(), models.PasswordResetRequest{Email: "ghost@uni.edu"}))

	repo.findByEmailErr = nil
	repo.userByEmail = &models.User{ID: "u2", Email: "gone@uni.edu", Active: false}
	require.NoError(t, svc.RequestPasswordReset(context.Background(), models.PasswordResetRequest{Email: "gone@uni.edu"}))
	require.Empty(t, notifier.codes)

	err := svc.RequestPasswordReset(context.Background(), models.PasswordResetRequest{Email: "not-an-email"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServicePasswordResetExpires(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "student@uni.edu", PasswordHash: hashed(t, "oldpassword"), Active: true}}
	notifier := &resetNotifierStub{}
	svc := NewAuthService(repo, nil, nil, AuthConfig{AccessTokenSecret: "secret", PasswordResetExpiry: time.Minute}, WithPasswordResetNotifier(notifier))
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	require.NoError(t, svc.RequestPasswordReset(context.Background(), models.PasswordResetRequest{Email: "student@uni.edu"}))
	require.Len(t, notifier.codes, 1)

	svc.now = func() time.Time { return time.Now().UTC() }
	err := svc.ResetPassword(context.Background(), models.ConfirmPasswordResetRequest{Token: notifier.codes[0], NewPassword: "newpassword"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
