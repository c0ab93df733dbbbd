package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/middleware"
	"github.com/noah-isme/clearance-api/internal/models"
	"github.com/noah-isme/clearance-api/internal/service"
)

type studentServiceMock struct {
	lastFilter   models.StudentFilter
	lastUserID   string
	imported     string
	importActor  string
	importCalled bool
}

func (m *studentServiceMock) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.StudentDetail{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *studentServiceMock) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	return &models.StudentDetail{Student: models.Student{ID: id}}, nil
}

func (m *studentServiceMock) GetByUser(ctx context.Context, userID string) (*models.StudentDetail, error) {
	m.lastUserID = userID
	return &models.StudentDetail{Student: models.Student{ID: "stu-1", UserID: userID}}, nil
}

func (m *studentServiceMock) Update(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error) {
	return &models.Student{ID: id}, nil
}

func (m *studentServiceMock) Import(ctx context.Context, r io.Reader, actorID string) (*dto.ImportResult, error) {
	m.importCalled = true
	m.importActor = actorID
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.imported = string(data)
	return &dto.ImportResult{TotalRows: 1, Imported: 1}, nil
}

func newUploadContext(t *testing.T, filename, content string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/students/import", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	return c, w
}

func TestStudentHandlerListBindsFilters(t *testing.T) {
	svc := &studentServiceMock{}
	handler := NewStudentHandler(svc, 0)

	c, w := newClearanceContext(http.MethodGet, "/students?search=abebe&department_name=CS&study_level=phd&block_no=A&page=3&limit=10", nil, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abebe", svc.lastFilter.Search)
	assert.Equal(t, "CS", svc.lastFilter.DepartmentName)
	require.NotNil(t, svc.lastFilter.StudyLevel)
	assert.Equal(t, models.StudyLevelPhD, *svc.lastFilter.StudyLevel)
	assert.Equal(t, "A", svc.lastFilter.BlockNo)
	assert.Equal(t, 3, svc.lastFilter.Page)
	assert.Equal(t, 10, svc.lastFilter.PageSize)
}

func TestStudentHandlerMe(t *testing.T) {
	svc := &studentServiceMock{}
	handler := NewStudentHandler(svc, 0)

	c, w := newClearanceContext(http.MethodGet, "/students/me", nil, &models.JWTClaims{UserID: "user-s", Role: models.RoleStudent})
	handler.Me(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-s", svc.lastUserID)
}

func TestStudentHandlerImport(t *testing.T) {
	svc := &studentServiceMock{}
	handler := NewStudentHandler(svc, 1024)

	csv := "first_name,last_name,email,id_no,department_name,study_level,year_of_study\nAbebe,Kebede,abebe@uni.edu,S-1,CS,UNDERGRADUATE,4\n"
	c, w := newUploadContext(t, "students.csv", csv)
	handler.Import(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.importCalled)
	assert.Equal(t, "admin-1", svc.importActor)
	assert.Equal(t, csv, svc.imported)
	assert.Contains(t, w.Body.String(), `"imported":1`)
}

func TestStudentHandlerImportRejectsBadUploads(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  string
	}{
		{name: "wrong extension", filename: "students.xlsx", content: "a,b\n"},
		{name: "too large", filename: "students.csv", content: string(bytes.Repeat([]byte("x"), 64))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &studentServiceMock{}
			handler := NewStudentHandler(svc, 32)
			c, w := newUploadContext(t, tc.filename, tc.content)
			handler.Import(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, svc.importCalled)
		})
	}
}

func TestStudentHandlerImportMissingFile(t *testing.T) {
	svc := &studentServiceMock{}
	handler := NewStudentHandler(svc, 0)

	c, w := newClearanceContext(http.MethodPost, "/students/import", nil, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.Import(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, svc.importCalled)
}
