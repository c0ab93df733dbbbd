package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/middleware"
	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/response"
)

type clearanceService interface {
	Submit(ctx context.Context, userID string, req dto.SubmitClearanceRequest) (*dto.ClearanceResponse, error)
	Decide(ctx context.Context, requestID, actorID string, req dto.DecisionRequest) (*dto.ClearanceResponse, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ClearanceResponse, error)
	ListForStudent(ctx context.Context, userID string) ([]dto.ClearanceResponse, error)
	ListForDepartment(ctx context.Context, actorID string, query dto.ClearanceQuery) ([]dto.ClearanceResponse, *models.Pagination, error)
	ListAll(ctx context.Context, query dto.ClearanceQuery) ([]dto.ClearanceResponse, *models.Pagination, error)
	Stats(ctx context.Context, windowID string) (*models.ClearanceStats, bool, error)
	ExportCSV(ctx context.Context, query dto.ClearanceQuery) ([]byte, error)
}

// ClearanceHandler exposes the request and decision endpoints.
type ClearanceHandler struct {
	service clearanceService
}

// NewClearanceHandler constructs ClearanceHandler.
func NewClearanceHandler(svc clearanceService) *ClearanceHandler {
	return &ClearanceHandler{service: svc}
}

// Submit godoc
// @Summary Submit a clearance request
// @Description Creates a request in the open window with one pending decision per department
// @Tags Clearances
// @Accept json
// @Produce json
// @Param payload body dto.SubmitClearanceRequest false "Clearance type, defaults to the window reason"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /clearances [post]
func (h *ClearanceHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitClearanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Invalid(err, "invalid payload"))
			return
		}
	}
	result, err := h.service.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Mine godoc
// @Summary List my clearance requests
// @Tags Clearances
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /clearances/me [get]
func (h *ClearanceHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get clearance request
// @Tags Clearances
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /clearances/{id} [get]
func (h *ClearanceHandler) Get(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Queue godoc
// @Summary Department queue
// @Description Requests carrying a slot for the caller's department
// @Tags Clearances
// @Produce json
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param clearance_type query string false "Clearance type"
// @Param search query string false "Student name or id number"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /clearances/queue [get]
func (h *ClearanceHandler) Queue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, pagination, err := h.service.ListForDepartment(c.Request.Context(), claims.UserID, bindClearanceQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Decide godoc
// @Summary Approve or reject
// @Description Records the caller's department decision. Rejections need a comment.
// @Tags Clearances
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /clearances/{id}/decision [patch]
func (h *ClearanceHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid payload"))
		return
	}
	result, err := h.service.Decide(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List all clearance requests
// @Tags Admin
// @Produce json
// @Param status query string false "Overall status"
// @Param clearance_type query string false "Clearance type"
// @Param department query string false "Department slot"
// @Param department_name query string false "Academic department"
// @Param window_id query string false "Window"
// @Param search query string false "Student name or id number"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/clearances [get]
func (h *ClearanceHandler) List(c *gin.Context) {
	items, pagination, err := h.service.ListAll(c.Request.Context(), bindClearanceQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Stats godoc
// @Summary Clearance overview counts
// @Tags Admin
// @Produce json
// @Param window_id query string false "Window"
// @Success 200 {object} response.Envelope
// @Router /admin/clearances/stats [get]
func (h *ClearanceHandler) Stats(c *gin.Context) {
	windowID := c.Query("window_id")
	stats, hit, err := h.service.Stats(c.Request.Context(), windowID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	if windowID != "" {
		middleware.SetMeta(c, "window_id", windowID)
	}
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export clearance requests as CSV
// @Tags Admin
// @Produce text/csv
// @Param status query string false "Overall status"
// @Param clearance_type query string false "Clearance type"
// @Success 200 {file} file
// @Router /admin/clearances/export [get]
func (h *ClearanceHandler) Export(c *gin.Context) {
	data, err := h.service.ExportCSV(c.Request.Context(), bindClearanceQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("clearances_%s.csv", time.Now().UTC().Format("20060102_150405"))
	response.Attachment(c, filename, "text/csv; charset=utf-8", data)
}

func bindClearanceQuery(c *gin.Context) dto.ClearanceQuery {
	query := dto.ClearanceQuery{
		Status:         strings.TrimSpace(c.Query("status")),
		ClearanceType:  models.ClearanceType(strings.ToUpper(strings.TrimSpace(c.Query("clearance_type")))),
		DepartmentName: strings.TrimSpace(c.Query("department_name")),
		Department:     models.DepartmentRole(strings.ToUpper(strings.TrimSpace(c.Query("department")))),
		WindowID:       c.Query("window_id"),
		Search:         strings.TrimSpace(c.Query("search")),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		query.PageSize = size
	}
	return query
}
