package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/logger"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

type auditWriterStub struct {
	logs []*models.AuditLog
}

func (a *auditWriterStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(validatorStub{claims: &models.JWTClaims{UserID: "u-1", Role: models.RoleRegistrar}}))
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(logger.ActorKey))
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer bad", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good", status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(recorder, req)
			require.Equal(t, tc.status, recorder.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "u-1", recorder.Body.String())
			}
		})
	}
}

func TestRBACMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serve := func(claims *models.JWTClaims, path string, allowed ...models.UserRole) int {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			if claims != nil {
				c.Set(ContextUserKey, claims)
			}
			c.Next()
		})
		handler := func(c *gin.Context) { c.Status(http.StatusNoContent) }
		router.GET("/users/:id", RBAC(append(rolesToStrings(allowed), SelfAccess)...), handler)
		router.GET("/queue", RequireStaff(), handler)
		router.GET("/staff", RequireRoles(allowed...), handler)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		return recorder.Code
	}

	librarian := &models.JWTClaims{UserID: "lib-1", Role: models.RoleLibrarian}
	assert.Equal(t, http.StatusNoContent, serve(librarian, "/staff", models.RoleLibrarian, models.RoleRegistrar))
	assert.Equal(t, http.StatusForbidden, serve(librarian, "/staff", models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(nil, "/staff", models.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, serve(librarian, "/users/lib-1", models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, serve(librarian, "/users/other", models.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, serve(librarian, "/queue"))
	assert.Equal(t, http.StatusForbidden, serve(&models.JWTClaims{UserID: "s-1", Role: models.RoleStudent}, "/queue"))
}

func rolesToStrings(roles []models.UserRole) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func TestAuditMiddlewareRecordsSuccessOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	writer := &auditWriterStub{}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		c.Next()
	})
	router.POST("/students/:id", Audit(writer, "STUDENT_UPDATE", "students"), func(c *gin.Context) {
		if c.Param("id") == "bad" {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/students/s-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/students/bad", nil))

	require.Len(t, writer.logs, 1)
	assert.Equal(t, "admin-1", *writer.logs[0].UserID)
	assert.Equal(t, "s-1", *writer.logs[0].ResourceID)
	assert.Contains(t, string(writer.logs[0].NewValues), `"role":"ADMIN"`)
}

type observerStub struct {
	paths    []string
	statuses []int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, path)
	o.statuses = append(o.statuses, status)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/clearances/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/clearances/req-42", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	assert.Equal(t, []string{"/clearances/:id", "unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)

	assert.Nil(t, ExtractMeta(c))
	SetCacheHit(c, true)
	meta := ExtractMeta(c)
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
}
