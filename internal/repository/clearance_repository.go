package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/clearance-api/internal/models"
)

const requestColumns = `r.id, r.student_id, r.clearance_type, r.window_id, r.study_level, r.created_at,
        s.user_id AS student_user_id, s.id_no AS student_id_no, s.first_name AS student_first_name,
        s.last_name AS student_last_name, s.department_name, s.block_no`

const decisionColumns = `request_id, department, status, comment, decided_by, decided_at`

// overallCTE derives the aggregate status in SQL so listings can filter and paginate on it.
// It mirrors RecomputeOverall in the service layer, which stays authoritative for responses.
const overallCTE = `WITH overall AS (
        SELECT request_id,
            CASE WHEN bool_or(status = 'REJECTED') THEN 'REJECTED'
                 WHEN bool_and(status = 'APPROVED') THEN 'APPROVED'
                 WHEN bool_and(status = 'PENDING') THEN 'PENDING'
                 ELSE 'IN_PROGRESS' END AS overall_status
        FROM clearance_decisions GROUP BY request_id)`

// ClearanceRepository persists clearance requests and their decision slots.
type ClearanceRepository struct {
	db *sqlx.DB
}

// NewClearanceRepository constructs the repository.
func NewClearanceRepository(db *sqlx.DB) *ClearanceRepository {
	return &ClearanceRepository{db: db}
}

// Create inserts the request and every decision slot atomically. A second
// submission for the same student, type and window returns ErrDuplicate.
func (r *ClearanceRepository) Create(ctx context.Context, request *models.ClearanceRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create clearance request: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	const requestQuery = `INSERT INTO clearance_requests (id, student_id, clearance_type, window_id, study_level, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, requestQuery, request.ID, request.StudentID, request.ClearanceType, request.WindowID, request.StudyLevel, request.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create clearance request: %w", ErrDuplicate)
		}
		return fmt.Errorf("create clearance request: %w", err)
	}

	const decisionQuery = `INSERT INTO clearance_decisions (request_id, department, status) VALUES ($1, $2, $3)`
	for i := range request.Decisions {
		d := &request.Decisions[i]
		d.RequestID = request.ID
		if d.Status == "" {
			d.Status = models.DecisionPending
		}
		if _, err := tx.ExecContext(ctx, decisionQuery, d.RequestID, d.Department, d.Status); err != nil {
			return fmt.Errorf("create clearance decision %s: %w", d.Department, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clearance request: %w", err)
	}
	commit = true
	return nil
}

// GetByID loads a request with its decisions in approval order.
func (r *ClearanceRepository) GetByID(ctx context.Context, id string) (*models.ClearanceRequest, error) {
	query := `SELECT ` + requestColumns + `
        FROM clearance_requests r JOIN students s ON s.id = r.student_id
        WHERE r.id = $1`
	var request models.ClearanceRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	decisions, err := r.decisionsFor(ctx, []string{request.ID})
	if err != nil {
		return nil, err
	}
	request.Decisions = decisions[request.ID]
	return &request, nil
}

// List returns requests matching the filter with their decisions attached.
func (r *ClearanceRepository) List(ctx context.Context, filter models.ClearanceFilter) ([]models.ClearanceRequest, int, error) {
	base := "FROM clearance_requests r JOIN students s ON s.id = r.student_id JOIN overall o ON o.request_id = r.id"
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)))
	}
	if filter.ClearanceType != "" {
		args = append(args, filter.ClearanceType)
		conditions = append(conditions, fmt.Sprintf("r.clearance_type = $%d", len(args)))
	}
	if filter.WindowID != "" {
		args = append(args, filter.WindowID)
		conditions = append(conditions, fmt.Sprintf("r.window_id = $%d", len(args)))
	}
	if filter.OverallStatus != "" {
		args = append(args, filter.OverallStatus)
		conditions = append(conditions, fmt.Sprintf("o.overall_status = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		slot := fmt.Sprintf("d.request_id = r.id AND d.department = $%d", len(args))
		if filter.DecisionStatus != "" {
			args = append(args, filter.DecisionStatus)
			slot += fmt.Sprintf(" AND d.status = $%d", len(args))
		}
		conditions = append(conditions, "EXISTS (SELECT 1 FROM clearance_decisions d WHERE "+slot+")")
	}
	if filter.DepartmentName != "" {
		args = append(args, strings.ToLower(filter.DepartmentName))
		conditions = append(conditions, fmt.Sprintf("LOWER(s.department_name) = $%d", len(args)))
	}
	if filter.BlockNo != "" {
		args = append(args, filter.BlockNo)
		conditions = append(conditions, fmt.Sprintf("s.block_no = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.first_name || ' ' || s.last_name) LIKE $%d OR LOWER(s.id_no) LIKE $%d)", len(args), len(args)))
	}
	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s SELECT %s %s ORDER BY r.created_at DESC LIMIT %d OFFSET %d", overallCTE, requestColumns, base, size, offset)
	var requests []models.ClearanceRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list clearance requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("%s SELECT COUNT(*) %s", overallCTE, base), args...); err != nil {
		return nil, 0, fmt.Errorf("count clearance requests: %w", err)
	}

	if len(requests) == 0 {
		return requests, total, nil
	}
	ids := make([]string, len(requests))
	for i := range requests {
		ids[i] = requests[i].ID
	}
	decisions, err := r.decisionsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range requests {
		requests[i].Decisions = decisions[requests[i].ID]
	}
	return requests, total, nil
}

// UpdateDecision writes a single department slot. Other slots of the same
// request are never touched, so concurrent departments do not conflict.
func (r *ClearanceRepository) UpdateDecision(ctx context.Context, decision *models.Decision) error {
	const query = `UPDATE clearance_decisions SET status = $3, comment = $4, decided_by = $5, decided_at = $6
        WHERE request_id = $1 AND department = $2`
	res, err := r.db.ExecContext(ctx, query, decision.RequestID, decision.Department, decision.Status, decision.Comment, decision.DecidedBy, decision.DecidedAt)
	if err != nil {
		return fmt.Errorf("update clearance decision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update clearance decision: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Stats counts requests per overall status and decisions per department.
// An empty windowID covers every window.
func (r *ClearanceRepository) Stats(ctx context.Context, windowID string) (*models.ClearanceStats, error) {
	var args []interface{}
	requestWhere := ""
	decisionWhere := ""
	if windowID != "" {
		args = append(args, windowID)
		requestWhere = " WHERE r.window_id = $1"
		decisionWhere = " WHERE r.window_id = $1"
	}

	var totals struct {
		Total      int `db:"total"`
		Pending    int `db:"pending"`
		InProgress int `db:"in_progress"`
		Approved   int `db:"approved"`
		Rejected   int `db:"rejected"`
	}
	totalsQuery := overallCTE + ` SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE o.overall_status = 'PENDING') AS pending,
        COUNT(*) FILTER (WHERE o.overall_status = 'IN_PROGRESS') AS in_progress,
        COUNT(*) FILTER (WHERE o.overall_status = 'APPROVED') AS approved,
        COUNT(*) FILTER (WHERE o.overall_status = 'REJECTED') AS rejected
        FROM clearance_requests r JOIN overall o ON o.request_id = r.id` + requestWhere
	if err := r.db.GetContext(ctx, &totals, totalsQuery, args...); err != nil {
		return nil, fmt.Errorf("clearance totals: %w", err)
	}

	departmentsQuery := `SELECT d.department,
        COUNT(*) FILTER (WHERE d.status = 'PENDING') AS pending,
        COUNT(*) FILTER (WHERE d.status = 'APPROVED') AS approved,
        COUNT(*) FILTER (WHERE d.status = 'REJECTED') AS rejected
        FROM clearance_decisions d JOIN clearance_requests r ON r.id = d.request_id` + decisionWhere + fmt.Sprintf(`
        GROUP BY d.department ORDER BY array_position($%d::text[], d.department)`, len(args)+1)
	var departments []models.DepartmentStats
	if err := r.db.SelectContext(ctx, &departments, departmentsQuery, append(args, pq.Array(departmentNames()))...); err != nil {
		return nil, fmt.Errorf("clearance department stats: %w", err)
	}

	return &models.ClearanceStats{
		Total:       totals.Total,
		Pending:     totals.Pending,
		InProgress:  totals.InProgress,
		Approved:    totals.Approved,
		Rejected:    totals.Rejected,
		Departments: departments,
	}, nil
}

func (r *ClearanceRepository) decisionsFor(ctx context.Context, requestIDs []string) (map[string][]models.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM clearance_decisions
        WHERE request_id = ANY($1) ORDER BY request_id, array_position($2::text[], department)`
	var rows []models.Decision
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(requestIDs), pq.Array(departmentNames())); err != nil {
		return nil, fmt.Errorf("load clearance decisions: %w", err)
	}
	grouped := make(map[string][]models.Decision, len(requestIDs))
	for _, d := range rows {
		grouped[d.RequestID] = append(grouped[d.RequestID], d)
	}
	return grouped, nil
}

func departmentNames() []string {
	names := make([]string, len(models.Departments))
	for i, d := range models.Departments {
		names[i] = string(d)
	}
	return names
}
