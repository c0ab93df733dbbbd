package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clearance-api/internal/dto"
	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
	"github.com/noah-isme/clearance-api/pkg/response"
)

type scheduleService interface {
	Activate(ctx context.Context, req dto.ActivateWindowRequest, actorID string) (*models.ClearanceWindow, error)
	Deactivate(ctx context.Context, actorID string) (*models.ClearanceWindow, error)
	Current(ctx context.Context) (*dto.WindowResponse, error)
}

// ScheduleHandler exposes the system open/close endpoints.
type ScheduleHandler struct {
	service scheduleService
}

// NewScheduleHandler constructs ScheduleHandler.
func NewScheduleHandler(svc scheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// Activate godoc
// @Summary Open the clearance system
// @Description Opens a submission window for one clearance reason
// @Tags System
// @Accept json
// @Produce json
// @Param payload body dto.ActivateWindowRequest true "Window"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /system/activate [post]
func (h *ScheduleHandler) Activate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ActivateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidWindow.Code, http.StatusBadRequest, "invalid window payload"))
		return
	}
	window, err := h.service.Activate(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// Deactivate godoc
// @Summary Close the clearance system
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /system/deactivate [post]
func (h *ScheduleHandler) Deactivate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	window, err := h.service.Deactivate(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// Status godoc
// @Summary Current clearance window
// @Description Reports whether submissions are open and the seconds left
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /system/status [get]
func (h *ScheduleHandler) Status(c *gin.Context) {
	current, err := h.service.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, current, nil)
}

// ClearanceTypes godoc
// @Summary List clearance types
// @Description Reasons a clearance window can be opened for
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/clearance-types [get]
func (h *ScheduleHandler) ClearanceTypes(c *gin.Context) {
	options := make([]dto.ClearanceTypeOption, 0, len(models.ClearanceTypes))
	for _, t := range models.ClearanceTypes {
		options = append(options, dto.ClearanceTypeOption{Value: t, Label: t.Label()})
	}
	response.JSON(c, http.StatusOK, options, nil)
}
