package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/export"
	"github.com/noah-isme/clearance-api/pkg/jobs"
	"github.com/noah-isme/clearance-api/pkg/storage"
)

// JobTypeCertificateRender identifies certificate pre-render jobs on the queue.
const JobTypeCertificateRender = "certificate.render"

type certificateSource interface {
	GetByID(ctx context.Context, id string) (*models.ClearanceRequest, error)
}

type certificateStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Exists(filename string) bool
}

type certificateRenderer interface {
	Render(data export.CertificateData) ([]byte, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// CertificateConfig tunes certificate output.
type CertificateConfig struct {
	APIPrefix   string
	Institution string
}

// CertificateService renders, stores and serves clearance certificates.
type CertificateService struct {
	requests certificateSource
	storage  certificateStorage
	renderer certificateRenderer
	signer   *storage.SignedURLSigner
	queue    jobDispatcher
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      CertificateConfig
	now      func() time.Time
}

// CertificateServiceOption configures the service.
type CertificateServiceOption func(*CertificateService)

// WithCertificateRenderer overrides the PDF renderer.
func WithCertificateRenderer(renderer certificateRenderer) CertificateServiceOption {
	return func(s *CertificateService) {
		if renderer != nil {
			s.renderer = renderer
		}
	}
}

// WithCertificateMetrics records render outcomes.
func WithCertificateMetrics(metrics *MetricsService) CertificateServiceOption {
	return func(s *CertificateService) {
		s.metrics = metrics
	}
}

// WithCertificateClock overrides the issue timestamp source.
func WithCertificateClock(now func() time.Time) CertificateServiceOption {
	return func(s *CertificateService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCertificateService constructs the service.
func NewCertificateService(requests certificateSource, store certificateStorage, signer *storage.SignedURLSigner, cfg CertificateConfig, logger *zap.Logger, opts ...CertificateServiceOption) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	svc := &CertificateService{
		requests: requests,
		storage:  store,
		renderer: export.NewCertificateRenderer(),
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// UseQueue attaches the background queue. The queue handler is HandleJob.
func (s *CertificateService) UseQueue(queue jobDispatcher) {
	s.queue = queue
}

// ScheduleRender queues a pre-render. Without a queue it is a no-op; the
// certificate is then rendered on first download.
func (s *CertificateService) ScheduleRender(ctx context.Context, requestID string) error {
	if s.queue == nil {
		return nil
	}
	if err := s.queue.Enqueue(jobs.Job{ID: requestID, Type: JobTypeCertificateRender}); err != nil {
		return fmt.Errorf("enqueue certificate render: %w", err)
	}
	return nil
}

// HandleJob is the queue handler for certificate pre-renders.
func (s *CertificateService) HandleJob(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeCertificateRender {
		return fmt.Errorf("unsupported job type %s", job.Type)
	}
	_, _, err := s.ensure(ctx, job.ID)
	if appErrors.Is(err, appErrors.ErrPreconditionFailed) || appErrors.Is(err, appErrors.ErrNotFound) {
		// Nothing to retry: the request was reversed or removed since scheduling.
		s.logger.Info("certificate render skipped", zap.String("request_id", job.ID), zap.Error(err))
		return nil
	}
	return err
}

// Open returns the certificate file for the owning student or an admin.
func (s *CertificateService) Open(ctx context.Context, requestID string, actor *models.JWTClaims) (*os.File, string, error) {
	if actor == nil {
		return nil, "", appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	if err := canDownload(actor, request); err != nil {
		return nil, "", err
	}
	relPath, err := s.render(request)
	if err != nil {
		return nil, "", err
	}
	return s.open(relPath)
}

// Link issues a signed download link for the certificate.
func (s *CertificateService) Link(ctx context.Context, requestID string, actor *models.JWTClaims) (*dto.CertificateLink, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "signed links are not configured")
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := canDownload(actor, request); err != nil {
		return nil, err
	}
	relPath, err := s.render(request)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(request.ID, relPath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign certificate link")
	}
	link := fmt.Sprintf("%s/certificates/download?token=%s", strings.TrimRight(s.cfg.APIPrefix, "/"), url.QueryEscape(token))
	return &dto.CertificateLink{URL: link, Token: token, ExpiresAt: expiresAt}, nil
}

// OpenByToken serves a signed link. Eligibility is checked again so a link
// issued before a reversal stops working.
func (s *CertificateService) OpenByToken(ctx context.Context, token string) (*os.File, string, error) {
	if s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "signed links are not configured")
	}
	requestID, _, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired certificate link")
	}
	_, relPath, err := s.ensure(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	return s.open(relPath)
}

// ensure loads the request and renders its certificate when needed.
func (s *CertificateService) ensure(ctx context.Context, requestID string) (*models.ClearanceRequest, string, error) {
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	relPath, err := s.render(request)
	if err != nil {
		return nil, "", err
	}
	return request, relPath, nil
}

func (s *CertificateService) load(ctx context.Context, requestID string) (*models.ClearanceRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "clearance request not found")
		}
		return nil, appErrors.Storage(err, "failed to load clearance request")
	}
	return request, nil
}

// render stores the certificate of an eligible request. The file name carries
// a digest of the decision stamps, so any re-decision yields a new file.
func (s *CertificateService) render(request *models.ClearanceRequest) (string, error) {
	if !IsEligible(request) {
		return "", appErrors.Clone(appErrors.ErrPreconditionFailed, "clearance is not complete")
	}
	filename := certificateFilename(request)
	if s.storage.Exists(filename) {
		return filename, nil
	}

	payload, err := s.renderer.Render(s.certificateData(request))
	if err != nil {
		s.metrics.RecordCertificate(false)
		return "", appErrors.Internal(err, "failed to render certificate")
	}
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		s.metrics.RecordCertificate(false)
		return "", appErrors.Storage(err, "failed to store certificate")
	}
	s.metrics.RecordCertificate(true)
	s.logger.Info("certificate rendered", zap.String("request_id", request.ID), zap.String("file", relPath), zap.Int("bytes", len(payload)))
	return relPath, nil
}

func (s *CertificateService) open(relPath string) (*os.File, string, error) {
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Storage(err, "failed to open certificate")
	}
	return file, relPath, nil
}

func (s *CertificateService) certificateData(request *models.ClearanceRequest) export.CertificateData {
	lines := make([]export.CertificateLine, 0, len(request.Decisions))
	for _, d := range request.Decisions {
		lines = append(lines, export.CertificateLine{
			Department: string(d.Department),
			Status:     string(d.Status),
			DecidedBy:  derefString(d.DecidedBy),
			DecidedAt:  d.DecidedAt,
		})
	}
	return export.CertificateData{
		Institution:   s.cfg.Institution,
		RequestID:     request.ID,
		StudentName:   strings.TrimSpace(request.StudentFirstName + " " + request.StudentLastName),
		StudentIDNo:   request.StudentIDNo,
		Department:    request.DepartmentName,
		StudyLevel:    string(request.StudyLevel),
		ClearanceType: string(request.ClearanceType),
		IssuedAt:      s.now(),
		Lines:         lines,
	}
}

func canDownload(actor *models.JWTClaims, request *models.ClearanceRequest) error {
	switch actor.Role {
	case models.RoleAdmin, models.RoleSuperAdmin:
		return nil
	case models.RoleStudent:
		if request.StudentUserID == actor.UserID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "certificate belongs to another student")
}

func certificateFilename(request *models.ClearanceRequest) string {
	h := sha256.New()
	for _, d := range request.Decisions {
		fmt.Fprintf(h, "%s|%s|%s|", d.Department, d.Status, derefString(d.DecidedBy))
		if d.DecidedAt != nil {
			h.Write([]byte(d.DecidedAt.UTC().Format(time.RFC3339Nano)))
		}
		h.Write([]byte{'\n'})
	}
	return request.ID + "-" + hex.EncodeToString(h.Sum(nil))[:16] + ".pdf"
}
