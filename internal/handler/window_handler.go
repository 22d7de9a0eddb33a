package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-window-api/internal/models"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
	"github.com/noah-isme/exam-window-api/pkg/response"
)

type windowService interface {
	Create(ctx context.Context, req models.CreateWindowRequest) (*models.ExamWindow, error)
	Update(ctx context.Context, ownerID, windowID string, req models.UpdateWindowRequest) (*models.ExamWindow, error)
	Toggle(ctx context.Context, ownerID, windowID string) (*models.ExamWindow, error)
	SetState(ctx context.Context, ownerID, windowID string, req models.ManualStateRequest) (*models.ExamWindow, error)
	Delete(ctx context.Context, ownerID, windowID string) error
	ListMine(ctx context.Context, ownerID string) ([]models.ExamWindowSummary, error)
	UpdateStatuses(ctx context.Context, ownerID string, windowIDs []string) ([]models.StatusChange, error)
	ListAvailable(ctx context.Context, participantID string) ([]models.AvailableWindow, error)
}

// WindowHandler exposes exam window endpoints.
type WindowHandler struct {
	service windowService
}

// NewWindowHandler builds a new handler.
func NewWindowHandler(service windowService) *WindowHandler {
	return &WindowHandler{service: service}
}

// Create godoc
// @Summary Create an exam window
// @Tags ExamWindows
// @Accept json
// @Produce json
// @Param payload body models.CreateWindowRequest true "Window payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exam-windows [post]
func (h *WindowHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.CreateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid window payload"))
		return
	}
	req.OwnerID = claims.UserID
	window, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// ListMine godoc
// @Summary List the caller's exam windows
// @Description Reconciles the caller's windows before listing them.
// @Tags ExamWindows
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /exam-windows/mine [get]
func (h *WindowHandler) ListMine(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	windows, err := h.service.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}

// ListAvailable godoc
// @Summary List windows open for enrollment
// @Tags ExamWindows
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /exam-windows/available [get]
func (h *WindowHandler) ListAvailable(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	windows, err := h.service.ListAvailable(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}

// Update godoc
// @Summary Edit an exam window
// @Tags ExamWindows
// @Accept json
// @Produce json
// @Param id path string true "Window ID"
// @Param payload body models.UpdateWindowRequest true "Window changes"
// @Success 200 {object} response.Envelope
// @Router /exam-windows/{id} [put]
func (h *WindowHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.UpdateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid window payload"))
		return
	}
	window, err := h.service.Update(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// Toggle godoc
// @Summary Flip the active flag of an exam window
// @Tags ExamWindows
// @Produce json
// @Param id path string true "Window ID"
// @Success 200 {object} response.Envelope
// @Router /exam-windows/{id}/toggle [patch]
func (h *WindowHandler) Toggle(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	window, err := h.service.Toggle(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// SetState godoc
// @Summary Start or finish an open-ended exam window
// @Tags ExamWindows
// @Accept json
// @Produce json
// @Param id path string true "Window ID"
// @Param payload body models.ManualStateRequest true "Target state"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-windows/{id}/state [patch]
func (h *WindowHandler) SetState(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.ManualStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid state payload"))
		return
	}
	window, err := h.service.SetState(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// Delete godoc
// @Summary Delete an exam window without enrollments
// @Tags ExamWindows
// @Param id path string true "Window ID"
// @Success 204
// @Failure 412 {object} response.Envelope
// @Router /exam-windows/{id} [delete]
func (h *WindowHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateStatuses godoc
// @Summary Reconcile the caller's exam windows now
// @Tags ExamWindows
// @Produce json
// @Param window_id query []string false "Limit the sweep to these windows" collectionFormat(multi)
// @Success 200 {object} response.Envelope
// @Router /exam-windows/update-statuses [patch]
func (h *WindowHandler) UpdateStatuses(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	changes, err := h.service.UpdateStatuses(c.Request.Context(), claims.UserID, c.QueryArray("window_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, changes, nil, map[string]interface{}{"updated": len(changes)})
}
