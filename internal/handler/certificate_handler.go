package handler

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/response"
)

type certificateService interface {
	Open(ctx context.Context, requestID string, actor *models.JWTClaims) (*os.File, string, error)
	Link(ctx context.Context, requestID string, actor *models.JWTClaims) (*dto.CertificateLink, error)
	OpenByToken(ctx context.Context, token string) (*os.File, string, error)
}

// CertificateHandler serves clearance certificates.
type CertificateHandler struct {
	service certificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(svc certificateService) *CertificateHandler {
	return &CertificateHandler{service: svc}
}

// Download godoc
// @Summary Download certificate
// @Description Streams the PDF certificate of a fully approved request
// @Tags Certificates
// @Produce application/pdf
// @Param id path string true "Request ID"
// @Success 200 {file} file
// @Failure 412 {object} response.Envelope
// @Router /clearances/{id}/certificate [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	file, name, err := h.service.Open(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.stream(c, file, name)
}

// Link godoc
// @Summary Issue a signed certificate link
// @Tags Certificates
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /clearances/{id}/certificate/link [post]
func (h *CertificateHandler) Link(c *gin.Context) {
	link, err := h.service.Link(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadByToken godoc
// @Summary Download certificate by signed link
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /certificates/download [get]
func (h *CertificateHandler) DownloadByToken(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.service.OpenByToken(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.stream(c, file, name)
}

func (h *CertificateHandler) stream(c *gin.Context, file *os.File, name string) {
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read certificate"))
		return
	}
	response.AttachmentReader(c, "clearance_"+name, "application/pdf", info.Size(), file)
}
