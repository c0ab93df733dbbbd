package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/clearance-api/internal/models"
	"github.com/noah-isme/clearance-api/internal/repository"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
)

type mockStudentRepo struct {
	students   map[string]models.Student
	emails     map[string]bool
	accounts   []models.User
	lastFilter models.StudentFilter
	listTotal  int
	err        error
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: make(map[string]models.Student), emails: make(map[string]bool)}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, 0, m.err
	}
	details := make([]models.StudentDetail, 0, len(m.students))
	for _, s := range m.students {
		details = append(details, models.StudentDetail{Student: s})
	}
	return details, m.listTotal, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.students[id]; ok {
		return &models.StudentDetail{Student: s, Active: true}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	for _, s := range m.students {
		if s.UserID == userID {
			return &models.StudentDetail{Student: s, Active: true}, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) StudyLevel(ctx context.Context, studentID string) (models.StudyLevel, error) {
	if s, ok := m.students[studentID]; ok {
		return s.StudyLevel, nil
	}
	return "", sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByIDNo(ctx context.Context, idNo string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, s := range m.students {
		if strings.EqualFold(s.IDNo, idNo) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) CreateWithAccount(ctx context.Context, user *models.User, student *models.Student) error {
	if m.emails[user.Email] {
		return fmt.Errorf("create student account: %w", repository.ErrDuplicate)
	}
	m.emails[user.Email] = true
	user.ID = fmt.Sprintf("user-%d", len(m.accounts)+1)
	student.ID = fmt.Sprintf("stu-%d", len(m.accounts)+1)
	student.UserID = user.ID
	m.accounts = append(m.accounts, *user)
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = *student
	return nil
}

func newStudentService(repo *mockStudentRepo, audit *auditStub) *StudentService {
	return NewStudentService(repo, audit, validator.New(), zap.NewNop(), WithPasswordCost(bcrypt.MinCost), WithImportLimit(50))
}

func TestStudentServiceListAndGet(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["stu-1"] = models.Student{ID: "stu-1", UserID: "user-1", IDNo: "UGR/1/14", StudyLevel: models.StudyLevelPhD}
	repo.listTotal = 1
	svc := newStudentService(repo, nil)

	level := models.StudyLevelPhD
	students, pagination, err := svc.List(context.Background(), models.StudentFilter{StudyLevel: &level, Page: 0, PageSize: 0})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, &level, repo.lastFilter.StudyLevel)

	bad := models.StudyLevel("DIPLOMA")
	_, _, err = svc.List(context.Background(), models.StudentFilter{StudyLevel: &bad})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	detail, err := svc.GetByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", detail.ID)

	got, err := svc.StudyLevel(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudyLevelPhD, got)

	_, err = svc.Get(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, err = svc.StudyLevel(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestStudentServiceListStorageFailure(t *testing.T) {
	repo := newMockStudentRepo()
	repo.err = errors.New("db down")
	svc := newStudentService(repo, nil)

	_, _, err := svc.List(context.Background(), models.StudentFilter{})
	assert.True(t, appErrors.Is(err, appErrors.ErrStorageUnavailable))
}

func TestStudentServiceUpdate(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["stu-1"] = models.Student{ID: "stu-1", IDNo: "UGR/1/14", FirstName: "Old", StudyLevel: models.StudyLevelUndergraduate}
	svc := newStudentService(repo, nil)

	updated, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{
		FirstName:      "Hanna",
		LastName:       "Girma",
		DepartmentName: "Physics",
		StudyLevel:     models.StudyLevelMasters,
		YearOfStudy:    2,
		BlockNo:        " B ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hanna", updated.FirstName)
	assert.Equal(t, "B", *updated.BlockNo)
	assert.Nil(t, updated.RoomNo)
	assert.Equal(t, models.StudyLevelMasters, repo.students["stu-1"].StudyLevel)

	_, err = svc.Update(context.Background(), "stu-1", UpdateStudentRequest{FirstName: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Update(context.Background(), "nope", UpdateStudentRequest{FirstName: "a", LastName: "b", DepartmentName: "c", StudyLevel: models.StudyLevelPhD, YearOfStudy: 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestStudentServiceImport(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["stu-0"] = models.Student{ID: "stu-0", IDNo: "UGR/0009/13"}
	audit := &auditStub{}
	svc := newStudentService(repo, audit)

	csv := strings.Join([]string{
		"First_Name,Last_Name,Email,ID_No,Department_Name,Study_Level,Year_Of_Study,Block_No,Room_No",
		"Abebe,Kebede,abebe@uni.edu,UGR/0001/14,Computer Science,Degree,3,A,101",
		"Sara,Tesfaye,sara@uni.edu,PGR/0002/14,Physics,MSc,1,,",
		"Bad,Email,not-an-email,UGR/0003/14,Physics,BSc,2,,",
		"Lidya,Haile,lidya@uni.edu,UGR/0004/14,Physics,Diploma,2,,",
		"Dup,Row,dup@uni.edu,UGR/0001/14,Physics,BSc,2,,",
		"Old,Student,old@uni.edu,UGR/0009/13,Physics,BSc,4,,",
		"Same,Mail,abebe@uni.edu,UGR/0005/14,Physics,PhD,1,,",
		",Missing,missing@uni.edu,UGR/0006/14,Physics,BSc,1,,",
		"Year,Bad,year@uni.edu,UGR/0007/14,Physics,BSc,zero,,",
	}, "\n")

	result, err := svc.Import(context.Background(), strings.NewReader(csv), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 9, result.TotalRows)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Errors, 7)

	byRow := map[int]string{}
	for _, e := range result.Errors {
		byRow[e.Row] = e.Message
	}
	assert.Equal(t, "invalid email", byRow[4])
	assert.Contains(t, byRow[5], "unknown study level")
	assert.Contains(t, byRow[6], "duplicate id_no")
	assert.Equal(t, "student already registered", byRow[7])
	assert.Contains(t, byRow[8], "already registered")
	assert.Contains(t, byRow[9], "missing first_name")
	assert.Contains(t, byRow[10], "year_of_study")

	require.Len(t, repo.accounts, 2)
	first := repo.accounts[0]
	assert.Equal(t, models.RoleStudent, first.Role)
	assert.Equal(t, "Abebe Kebede", first.FullName)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(first.PasswordHash), []byte("UGR/0001/14")))

	imported, err := svc.GetByUser(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudyLevelUndergraduate, imported.StudyLevel)
	assert.Equal(t, "A", *imported.BlockNo)

	assert.Equal(t, []string{models.AuditActionStudentImport}, audit.actions())
}

func TestStudentServiceImportRejectsBadFile(t *testing.T) {
	svc := newStudentService(newMockStudentRepo(), nil)

	_, err := svc.Import(context.Background(), strings.NewReader("first_name,last_name\nA,B"), "admin-1")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "missing required columns")

	_, err = svc.Import(context.Background(), strings.NewReader(""), "admin-1")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
