package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/models"
	"github.com/noah-isme/clearance-api/internal/repository"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/export"
)

const exportMaxPages = 100

type clearanceStore interface {
	Create(ctx context.Context, request *models.ClearanceRequest) error
	GetByID(ctx context.Context, id string) (*models.ClearanceRequest, error)
	List(ctx context.Context, filter models.ClearanceFilter) ([]models.ClearanceRequest, int, error)
	UpdateDecision(ctx context.Context, decision *models.Decision) error
	Stats(ctx context.Context, windowID string) (*models.ClearanceStats, error)
}

type submissionGate interface {
	OpenWindow(ctx context.Context, now time.Time) (*models.ClearanceWindow, error)
}

type studentDirectory interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
}

type accountDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CertificateScheduler queues background certificate rendering.
type CertificateScheduler interface {
	ScheduleRender(ctx context.Context, requestID string) error
}

// ClearanceService owns the request lifecycle: submission through the gate,
// per-department decisions and the derived aggregate.
type ClearanceService struct {
	repo         clearanceStore
	gate         submissionGate
	students     studentDirectory
	accounts     accountDirectory
	audit        auditLogger
	cache        *CacheService
	metrics      *MetricsService
	certificates CertificateScheduler
	validator    *validator.Validate
	exporter     *export.CSVExporter
	logger       *zap.Logger
	now          func() time.Time
}

// ClearanceServiceOption configures the service.
type ClearanceServiceOption func(*ClearanceService)

// WithClearanceClock overrides the wall clock.
func WithClearanceClock(now func() time.Time) ClearanceServiceOption {
	return func(s *ClearanceService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithClearanceCache enables the cached admin stats projection.
func WithClearanceCache(cache *CacheService) ClearanceServiceOption {
	return func(s *ClearanceService) {
		s.cache = cache
	}
}

// WithClearanceMetrics records submission and decision counters.
func WithClearanceMetrics(metrics *MetricsService) ClearanceServiceOption {
	return func(s *ClearanceService) {
		s.metrics = metrics
	}
}

// WithCertificateScheduler pre-renders certificates once a request becomes eligible.
func WithCertificateScheduler(scheduler CertificateScheduler) ClearanceServiceOption {
	return func(s *ClearanceService) {
		s.certificates = scheduler
	}
}

// NewClearanceService wires the workflow collaborators.
func NewClearanceService(repo clearanceStore, gate submissionGate, students studentDirectory, accounts accountDirectory, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...ClearanceServiceOption) *ClearanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &ClearanceService{
		repo:      repo,
		gate:      gate,
		students:  students,
		accounts:  accounts,
		audit:     audit,
		validator: validate,
		exporter:  export.NewCSVExporter(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a request for the student behind userID in the open window,
// with one pending decision per applicable department.
func (s *ClearanceService) Submit(ctx context.Context, userID string, req dto.SubmitClearanceRequest) (*dto.ClearanceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid clearance type")
	}
	now := s.now()
	window, err := s.gate.OpenWindow(ctx, now)
	if err != nil {
		s.metrics.RecordSubmission(req.ClearanceType, appErrors.FromError(err).Code)
		return nil, err
	}
	clearanceType := req.ClearanceType
	if clearanceType == "" {
		clearanceType = window.Reason
	}
	if clearanceType != window.Reason {
		s.metrics.RecordSubmission(clearanceType, appErrors.ErrValidation.Code)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("the open window accepts %s requests only", window.Reason))
	}

	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Storage(err, "failed to load student profile")
	}

	departments := ApplicableDepartments(student.StudyLevel)
	decisions := make([]models.Decision, len(departments))
	for i, dept := range departments {
		decisions[i] = models.Decision{Department: dept, Status: models.DecisionPending}
	}
	request := &models.ClearanceRequest{
		StudentID:        student.ID,
		ClearanceType:    clearanceType,
		WindowID:         derefString(window.WindowID),
		StudyLevel:       student.StudyLevel,
		CreatedAt:        now,
		StudentUserID:    student.UserID,
		StudentIDNo:      student.IDNo,
		StudentFirstName: student.FirstName,
		StudentLastName:  student.LastName,
		DepartmentName:   student.DepartmentName,
		BlockNo:          student.BlockNo,
		Decisions:        decisions,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.metrics.RecordSubmission(clearanceType, appErrors.ErrDuplicateRequest.Code)
			return nil, appErrors.ErrDuplicateRequest
		}
		return nil, appErrors.Storage(err, "failed to create clearance request")
	}
	s.metrics.RecordSubmission(clearanceType, SubmissionCreated)

	payload, _ := json.Marshal(map[string]interface{}{"clearance_type": clearanceType, "window_id": request.WindowID, "departments": departments})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionClearanceSubmit,
		Resource:   "clearance_requests",
		ResourceID: &request.ID,
		NewValues:  payload,
	})
	s.cache.InvalidateStats(ctx)
	s.logger.Info("clearance request submitted",
		zap.String("request_id", request.ID),
		zap.String("student_id", student.ID),
		zap.String("clearance_type", string(clearanceType)),
		zap.Int("departments", len(departments)))

	resp := toClearanceResponse(request)
	return &resp, nil
}

// Decide records the acting staff member's verdict on their own department slot and
// returns the request with its recomputed aggregate.
func (s *ClearanceService) Decide(ctx context.Context, requestID, actorID string, req dto.DecisionRequest) (*dto.ClearanceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid decision payload")
	}
	actor, err := s.accounts.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, appErrors.Storage(err, "failed to load acting account")
	}
	if _, ok := ResolveApproverRole(actor.Role); !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account does not act for a clearance department")
	}

	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	dept, err := AuthorizeDecision(actor, request)
	if err != nil {
		return nil, err
	}
	if req.Department != "" && req.Department != dept {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s staff cannot decide for %s", dept, req.Department))
	}
	slot, ok := request.Decision(dept)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("request has no %s decision", dept))
	}
	if err := ValidateTransition(slot.Status, req.Status, req.Comment); err != nil {
		return nil, err
	}

	wasEligible := IsEligible(request)
	previous := *slot
	now := s.now()
	decision := &models.Decision{
		RequestID:  request.ID,
		Department: dept,
		Status:     req.Status,
		Comment:    optionalString(req.Comment),
		DecidedBy:  &actorID,
		DecidedAt:  &now,
	}
	if err := s.repo.UpdateDecision(ctx, decision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("request has no %s decision", dept))
		}
		return nil, appErrors.Storage(err, "failed to store decision")
	}
	s.cache.InvalidateStats(ctx)
	s.metrics.RecordDecision(dept, req.Status)

	oldPayload, _ := json.Marshal(map[string]interface{}{"department": dept, "status": previous.Status, "comment": previous.Comment})
	newPayload, _ := json.Marshal(map[string]interface{}{"department": dept, "status": decision.Status, "comment": decision.Comment})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionClearanceDecide,
		Resource:   "clearance_decisions",
		ResourceID: &request.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
	})

	updated, err := s.load(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	resp := toClearanceResponse(updated)
	s.logger.Info("clearance decision recorded",
		zap.String("request_id", request.ID),
		zap.String("department", string(dept)),
		zap.String("status", string(req.Status)),
		zap.String("overall_status", string(resp.OverallStatus)))

	if !wasEligible && resp.Eligible && s.certificates != nil {
		if err := s.certificates.ScheduleRender(ctx, request.ID); err != nil {
			s.logger.Warn("failed to schedule certificate render", zap.String("request_id", request.ID), zap.Error(err))
		}
	}
	return &resp, nil
}

// Get returns a request visible to the actor. Students only see their own.
func (s *ClearanceService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ClearanceResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	// Details always come from the store so the aggregate reflects every
	// committed decision.
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && request.StudentUserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another student")
	}
	resp := toClearanceResponse(request)
	return &resp, nil
}

// ListForStudent returns every request of the student behind userID, newest first.
func (s *ClearanceService) ListForStudent(ctx context.Context, userID string) ([]dto.ClearanceResponse, error) {
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Storage(err, "failed to load student profile")
	}
	requests, _, err := s.repo.List(ctx, models.ClearanceFilter{StudentID: student.ID, PageSize: 100})
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list clearance requests")
	}
	return toClearanceResponses(requests), nil
}

// ListForDepartment is the staff queue: requests carrying a slot for the actor's
// department, narrowed to the actor's academic department or block when bound.
func (s *ClearanceService) ListForDepartment(ctx context.Context, actorID string, query dto.ClearanceQuery) ([]dto.ClearanceResponse, *models.Pagination, error) {
	actor, err := s.accounts.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrUnauthorized
		}
		return nil, nil, appErrors.Storage(err, "failed to load acting account")
	}
	dept, err := AuthorizeDecision(actor, nil)
	if err != nil {
		return nil, nil, err
	}
	filter := models.ClearanceFilter{
		Department:    dept,
		ClearanceType: query.ClearanceType,
		WindowID:      query.WindowID,
		Search:        query.Search,
		Page:          query.Page,
		PageSize:      query.PageSize,
	}
	if query.Status != "" {
		status := models.DecisionStatus(strings.ToUpper(query.Status))
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status must be PENDING, APPROVED or REJECTED")
		}
		filter.DecisionStatus = status
	}
	switch dept {
	case models.DepartmentHead:
		filter.DepartmentName = trimmed(actor.DepartmentName)
	case models.DepartmentDormitory:
		filter.BlockNo = trimmed(actor.BlockNo)
	}
	return s.list(ctx, filter)
}

// ListAll is the admin data view filtered by overall status, type or department.
func (s *ClearanceService) ListAll(ctx context.Context, query dto.ClearanceQuery) ([]dto.ClearanceResponse, *models.Pagination, error) {
	filter, err := adminFilter(query)
	if err != nil {
		return nil, nil, err
	}
	return s.list(ctx, filter)
}

// Stats returns the admin overview counts, served from cache when possible.
// The boolean reports a cache hit.
func (s *ClearanceService) Stats(ctx context.Context, windowID string) (*models.ClearanceStats, bool, error) {
	var cached models.ClearanceStats
	if hit, err := s.cache.Get(ctx, statsCacheKey(windowID), &cached); err == nil && hit {
		return &cached, true, nil
	}
	stats, err := s.repo.Stats(ctx, windowID)
	if err != nil {
		return nil, false, appErrors.Storage(err, "failed to compute clearance stats")
	}
	stats.GeneratedAt = s.now()
	_ = s.cache.Set(ctx, statsCacheKey(windowID), stats, 0)
	return stats, false, nil
}

// ExportCSV renders the admin listing as CSV, one row per request.
func (s *ClearanceService) ExportCSV(ctx context.Context, query dto.ClearanceQuery) ([]byte, error) {
	filter, err := adminFilter(query)
	if err != nil {
		return nil, err
	}
	headers := []string{"request_id", "student_id_no", "student_name", "department_name", "study_level", "clearance_type", "created_at", "overall_status", "progress"}
	for _, dept := range models.Departments {
		headers = append(headers, strings.ToLower(string(dept)))
	}
	dataset := export.Dataset{Headers: headers}

	filter.PageSize = 100
	for page := 1; page <= exportMaxPages; page++ {
		filter.Page = page
		requests, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Storage(err, "failed to list clearance requests")
		}
		for i := range requests {
			resp := toClearanceResponse(&requests[i])
			row := map[string]string{
				"request_id":      resp.ID,
				"student_id_no":   resp.StudentIDNo,
				"student_name":    resp.StudentName,
				"department_name": resp.DepartmentName,
				"study_level":     string(resp.StudyLevel),
				"clearance_type":  string(resp.ClearanceType),
				"created_at":      resp.CreatedAt.Format(time.RFC3339),
				"overall_status":  string(resp.OverallStatus),
				"progress":        fmt.Sprintf("%.0f%%", resp.Progress*100),
			}
			for _, dept := range models.Departments {
				value := "N/A"
				if d, ok := resp.ClearanceRequest.Decision(dept); ok {
					value = string(d.Status)
				}
				row[strings.ToLower(string(dept))] = value
			}
			dataset.Rows = append(dataset.Rows, row)
		}
		if page*filter.PageSize >= total || len(requests) == 0 {
			break
		}
	}
	out, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return out, nil
}

func (s *ClearanceService) list(ctx context.Context, filter models.ClearanceFilter) ([]dto.ClearanceResponse, *models.Pagination, error) {
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list clearance requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return toClearanceResponses(requests), &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *ClearanceService) load(ctx context.Context, id string) (*models.ClearanceRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "clearance request not found")
		}
		return nil, appErrors.Storage(err, "failed to load clearance request")
	}
	return request, nil
}

func (s *ClearanceService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "clearance-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func adminFilter(query dto.ClearanceQuery) (models.ClearanceFilter, error) {
	filter := models.ClearanceFilter{
		ClearanceType:  query.ClearanceType,
		DepartmentName: query.DepartmentName,
		Department:     query.Department,
		WindowID:       query.WindowID,
		Search:         query.Search,
		Page:           query.Page,
		PageSize:       query.PageSize,
	}
	if query.ClearanceType != "" && !query.ClearanceType.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, "unknown clearance type")
	}
	if query.Department != "" && !query.Department.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, "unknown department")
	}
	if query.Status != "" {
		status := models.OverallStatus(strings.ToUpper(query.Status))
		if !status.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be PENDING, IN_PROGRESS, APPROVED or REJECTED")
		}
		filter.OverallStatus = status
	}
	return filter, nil
}

func toClearanceResponse(request *models.ClearanceRequest) dto.ClearanceResponse {
	return dto.ClearanceResponse{
		ClearanceRequest: *request,
		StudentName:      strings.TrimSpace(request.StudentFirstName + " " + request.StudentLastName),
		OverallStatus:    RecomputeOverall(request.Decisions),
		Progress:         Progress(request.Decisions),
		Eligible:         IsEligible(request),
	}
}

func toClearanceResponses(requests []models.ClearanceRequest) []dto.ClearanceResponse {
	out := make([]dto.ClearanceResponse, len(requests))
	for i := range requests {
		out[i] = toClearanceResponse(&requests[i])
	}
	return out
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
