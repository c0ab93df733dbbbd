package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRoleClassification(t *testing.T) {
	assert.True(t, RoleRegistrar.Valid())
	assert.True(t, RoleRegistrar.IsStaff())
	assert.True(t, RoleSuperAdmin.Valid())
	assert.False(t, RoleSuperAdmin.IsStaff())
	assert.False(t, RoleStudent.IsStaff())
	assert.False(t, UserRole("TEACHER").Valid())
	assert.Len(t, StaffRoles, 7)
}

func TestRefreshTokenUsable(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	token := NewRefreshToken("u-1", "value", time.Hour, LoginRequest{IP: "10.0.0.1"}, now)

	assert.NotEmpty(t, token.ID)
	assert.Equal(t, "10.0.0.1", token.IPAddress)
	assert.True(t, token.Usable(now.Add(59*time.Minute)))
	assert.False(t, token.Usable(now.Add(time.Hour)))

	token.Revoked = true
	assert.False(t, token.Usable(now))
}

func TestClaimsInfoCarriesScope(t *testing.T) {
	block := "B"
	claims := &JWTClaims{UserID: "d-1", Role: RoleDormitory, Email: "dorm@uni.edu", BlockNo: &block}
	info := claims.Info()
	assert.Equal(t, "d-1", info.ID)
	assert.Equal(t, &block, info.BlockNo)
	assert.Nil(t, info.DepartmentName)
}

func TestClearanceTypesAreValidAndLabelled(t *testing.T) {
	require.Len(t, ClearanceTypes, 4)
	for _, ct := range ClearanceTypes {
		require.True(t, ct.Valid(), ct)
		require.NotEmpty(t, ct.Label())
	}
	require.Equal(t, "End of year", ClearanceTypeEndOfYear.Label())
	require.False(t, ClearanceType("AUDIT").Valid())
}
