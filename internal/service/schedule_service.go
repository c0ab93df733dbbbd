package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
)

type windowStore interface {
	Get(ctx context.Context) (*models.ClearanceWindow, error)
	Activate(ctx context.Context, window *models.ClearanceWindow) (bool, error)
	Deactivate(ctx context.Context, actorID *string, at time.Time) error
	ExpireIfDue(ctx context.Context, now time.Time) (bool, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ScheduleService is the gate that decides when clearance requests may be submitted.
// There is exactly one window system wide; it closes itself lazily once its end passes.
type ScheduleService struct {
	repo      windowStore
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ScheduleServiceOption configures the service.
type ScheduleServiceOption func(*ScheduleService)

// WithScheduleClock overrides the wall clock.
func WithScheduleClock(now func() time.Time) ScheduleServiceOption {
	return func(s *ScheduleService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithScheduleMetrics records lazy expiries.
func WithScheduleMetrics(metrics *MetricsService) ScheduleServiceOption {
	return func(s *ScheduleService) {
		s.metrics = metrics
	}
}

// NewScheduleService constructs the gate.
func NewScheduleService(repo windowStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...ScheduleServiceOption) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &ScheduleService{
		repo:      repo,
		audit:     audit,
		validator: validate,
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

// Activate opens a new window. It fails with INVALID_WINDOW for bad bounds and
// WINDOW_ACTIVE while another window is still open.
func (s *ScheduleService) Activate(ctx context.Context, req dto.ActivateWindowRequest, actorID string) (*models.ClearanceWindow, error) {
	if !req.Reason.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "unknown clearance reason")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidWindow.Code, appErrors.ErrInvalidWindow.Status, "invalid clearance window")
	}
	now := s.now()
	start := req.StartAt.UTC()
	end := req.EndAt.UTC()
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "end must be after start")
	}
	if start.Before(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "start must not be in the past")
	}

	if _, err := s.expire(ctx, now); err != nil {
		return nil, err
	}

	windowID := uuid.NewString()
	window := &models.ClearanceWindow{
		ID:        1,
		WindowID:  &windowID,
		IsActive:  true,
		Reason:    req.Reason,
		StartAt:   &start,
		EndAt:     &end,
		UpdatedBy: &actorID,
		UpdatedAt: now,
	}
	activated, err := s.repo.Activate(ctx, window)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to activate clearance window")
	}
	if !activated {
		return nil, appErrors.ErrWindowActive
	}

	payload, _ := json.Marshal(map[string]interface{}{"window_id": windowID, "reason": req.Reason, "start_at": start, "end_at": end})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionWindowActivate,
		Resource:   "clearance_window",
		ResourceID: &windowID,
		NewValues:  payload,
	})
	s.logger.Info("clearance window activated",
		zap.String("window_id", windowID),
		zap.String("reason", string(req.Reason)),
		zap.Time("start_at", start),
		zap.Time("end_at", end))
	return window, nil
}

// Deactivate closes the window immediately. It succeeds even when nothing is open.
func (s *ScheduleService) Deactivate(ctx context.Context, actorID string) (*models.ClearanceWindow, error) {
	now := s.now()
	previous, err := s.repo.Get(ctx)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load clearance window")
	}
	if err := s.repo.Deactivate(ctx, &actorID, now); err != nil {
		return nil, appErrors.Storage(err, "failed to deactivate clearance window")
	}
	window := *previous
	window.IsActive = false
	window.UpdatedBy = &actorID
	window.UpdatedAt = now

	oldPayload, _ := json.Marshal(map[string]interface{}{"is_active": previous.IsActive})
	newPayload, _ := json.Marshal(map[string]interface{}{"is_active": false})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionWindowDeactivate,
		Resource:   "clearance_window",
		ResourceID: window.WindowID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
	})
	return &window, nil
}

// OpenWindow returns the window admitting submissions at now, or SYSTEM_CLOSED.
// An active window past its end is closed as a side effect.
func (s *ScheduleService) OpenWindow(ctx context.Context, now time.Time) (*models.ClearanceWindow, error) {
	window, err := s.load(ctx, now)
	if err != nil {
		return nil, err
	}
	if !window.Admits(now) {
		return nil, appErrors.ErrSystemClosed
	}
	return window, nil
}

// IsSubmissionAllowed reports whether a window is active and now lies in [start, end).
func (s *ScheduleService) IsSubmissionAllowed(ctx context.Context, now time.Time) (bool, error) {
	if _, err := s.OpenWindow(ctx, now); err != nil {
		if appErrors.Is(err, appErrors.ErrSystemClosed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CurrentReason returns the reason of the active window, or empty when closed.
func (s *ScheduleService) CurrentReason(ctx context.Context) (models.ClearanceType, error) {
	window, err := s.load(ctx, s.now())
	if err != nil {
		return "", err
	}
	if !window.IsActive {
		return "", nil
	}
	return window.Reason, nil
}

// Current returns the window projection shown on the admin and student screens.
func (s *ScheduleService) Current(ctx context.Context) (*dto.WindowResponse, error) {
	now := s.now()
	window, err := s.load(ctx, now)
	if err != nil {
		return nil, err
	}
	resp := &dto.WindowResponse{
		IsActive:       window.IsActive,
		SubmissionOpen: window.Admits(now),
		StartAt:        window.StartAt,
		EndAt:          window.EndAt,
		UpdatedAt:      window.UpdatedAt,
	}
	if window.IsActive {
		resp.Reason = window.Reason
		if window.WindowID != nil {
			resp.WindowID = *window.WindowID
		}
		if window.EndAt != nil {
			if remaining := window.EndAt.Sub(now); remaining > 0 {
				resp.SecondsRemaining = int64(remaining / time.Second)
			}
		}
	}
	return resp, nil
}

// load reads the window after applying lazy expiry.
func (s *ScheduleService) load(ctx context.Context, now time.Time) (*models.ClearanceWindow, error) {
	window, err := s.repo.Get(ctx)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load clearance window")
	}
	if !window.Expired(now) {
		return window, nil
	}
	if _, err := s.expire(ctx, now); err != nil {
		return nil, err
	}
	window.IsActive = false
	return window, nil
}

func (s *ScheduleService) expire(ctx context.Context, now time.Time) (bool, error) {
	expired, err := s.repo.ExpireIfDue(ctx, now)
	if err != nil {
		return false, appErrors.Storage(err, "failed to expire clearance window")
	}
	if !expired {
		return false, nil
	}
	s.metrics.RecordWindowExpiry()
	s.logger.Info("clearance window expired", zap.Time("at", now))
	s.emitAudit(ctx, &models.AuditLog{
		Action:    models.AuditActionWindowExpire,
		Resource:  "clearance_window",
		NewValues: []byte(`{"is_active":false}`),
	})
	return true, nil
}

func (s *ScheduleService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "schedule-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", log.Action), zap.Error(err))
	}
}
