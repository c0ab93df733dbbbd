package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clearance-api/internal/models"
)

var requestColumnNames = []string{"id", "student_id", "clearance_type", "window_id", "study_level", "created_at",
	"student_user_id", "student_id_no", "student_first_name", "student_last_name", "department_name", "block_no"}

var decisionColumnNames = []string{"request_id", "department", "status", "comment", "decided_by", "decided_at"}

func pendingDecisions(depts ...models.DepartmentRole) []models.Decision {
	out := make([]models.Decision, len(depts))
	for i, d := range depts {
		out[i] = models.Decision{Department: d}
	}
	return out
}

func TestClearanceRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	request := &models.ClearanceRequest{
		StudentID:     "s-1",
		ClearanceType: models.ClearanceTypeGraduation,
		WindowID:      "w-1",
		StudyLevel:    models.StudyLevelPhD,
		Decisions:     pendingDecisions(models.DepartmentLibrarian, models.DepartmentRegistrar),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clearance_requests (id, student_id, clearance_type, window_id, study_level, created_at)")).
		WithArgs(sqlmock.AnyArg(), "s-1", "GRADUATION", "w-1", "PHD", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clearance_decisions (request_id, department, status)")).
		WithArgs(sqlmock.AnyArg(), "LIBRARIAN", "PENDING").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clearance_decisions (request_id, department, status)")).
		WithArgs(sqlmock.AnyArg(), "REGISTRAR", "PENDING").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), request))
	assert.NotEmpty(t, request.ID)
	for _, d := range request.Decisions {
		assert.Equal(t, request.ID, d.RequestID)
		assert.Equal(t, models.DecisionPending, d.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clearance_requests")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "clearance_requests_student_window_key"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.ClearanceRequest{StudentID: "s-1", ClearanceType: models.ClearanceTypeGraduation, WindowID: "w-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryCreateRollsBackOnDecisionFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clearance_requests")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clearance_decisions")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.ClearanceRequest{StudentID: "s-1", ClearanceType: models.ClearanceTypeGraduation, WindowID: "w-1", Decisions: pendingDecisions(models.DepartmentSport)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM clearance_requests r JOIN students s ON s.id = r.student_id\n        WHERE r.id = $1")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(requestColumnNames).
			AddRow("req-1", "s-1", "GRADUATION", "w-1", "UNDERGRADUATE", now, "u-1", "UGR/1/12", "Abebe", "Kebede", "Computer Science", "A"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE request_id = ANY($1) ORDER BY request_id, array_position($2::text[], department)")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(decisionColumnNames).
			AddRow("req-1", "LIBRARIAN", "APPROVED", nil, "u-9", now).
			AddRow("req-1", "REGISTRAR", "PENDING", nil, nil, nil))

	request, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "Abebe", request.StudentFirstName)
	require.Len(t, request.Decisions, 2)
	librarian, ok := request.Decision(models.DepartmentLibrarian)
	require.True(t, ok)
	assert.Equal(t, models.DecisionApproved, librarian.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id = $1")).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryListDepartmentQueue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND EXISTS (SELECT 1 FROM clearance_decisions d WHERE d.request_id = r.id AND d.department = $1 AND d.status = $2) AND s.block_no = $3 ORDER BY r.created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("DORMITORY", "PENDING", "B").
		WillReturnRows(sqlmock.NewRows(requestColumnNames).
			AddRow("req-2", "s-2", "END_OF_YEAR", "w-1", "MASTERS", now, "u-2", "PGR/2/14", "Sara", "Tesfaye", "Physics", "B"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM clearance_requests r")).
		WithArgs("DORMITORY", "PENDING", "B").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE request_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(decisionColumnNames).AddRow("req-2", "DORMITORY", "PENDING", nil, nil, nil))

	requests, total, err := repo.List(context.Background(), models.ClearanceFilter{
		Department:     models.DepartmentDormitory,
		DecisionStatus: models.DecisionPending,
		BlockNo:        "B",
	})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, 1, total)
	require.Len(t, requests[0].Decisions, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryListByOverallStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND r.clearance_type = $1 AND o.overall_status = $2 ORDER BY r.created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("GRADUATION", "REJECTED").
		WillReturnRows(sqlmock.NewRows(requestColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("GRADUATION", "REJECTED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	requests, total, err := repo.List(context.Background(), models.ClearanceFilter{
		ClearanceType: models.ClearanceTypeGraduation,
		OverallStatus: models.OverallRejected,
		Page:          2,
		PageSize:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, requests)
	assert.Equal(t, 10, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryUpdateDecision(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	now := time.Now().UTC()
	comment := "unpaid balance"
	actor := "u-5"
	decision := &models.Decision{RequestID: "req-1", Department: models.DepartmentCafeteria, Status: models.DecisionRejected, Comment: &comment, DecidedBy: &actor, DecidedAt: &now}

	mock.ExpectExec(regexp.QuoteMeta("WHERE request_id = $1 AND department = $2")).
		WithArgs("req-1", "CAFETERIA", "REJECTED", "unpaid balance", "u-5", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateDecision(context.Background(), decision))

	decision.Department = models.DepartmentDormitory
	mock.ExpectExec(regexp.QuoteMeta("WHERE request_id = $1 AND department = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateDecision(context.Background(), decision)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearanceRepositoryStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClearanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM clearance_requests r JOIN overall o ON o.request_id = r.id WHERE r.window_id = $1")).
		WithArgs("w-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "in_progress", "approved", "rejected"}).AddRow(5, 1, 2, 1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY d.department ORDER BY array_position($2::text[], d.department)")).
		WithArgs("w-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"department", "pending", "approved", "rejected"}).
			AddRow("DEPARTMENT_HEAD", 3, 2, 0).
			AddRow("REGISTRAR", 4, 1, 0))

	stats, err := repo.Stats(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.InProgress)
	require.Len(t, stats.Departments, 2)
	assert.Equal(t, models.DepartmentRegistrar, stats.Departments[1].Department)
	assert.NoError(t, mock.ExpectationsWereMet())
}
