package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-window-api/internal/models"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
	"github.com/noah-isme/exam-window-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, req models.CreateEnrollmentRequest) (*models.Enrollment, error)
	Cancel(ctx context.Context, participantID, enrollmentID string) error
	ListMine(ctx context.Context, participantID string) ([]models.EnrollmentDetail, error)
	ListByWindow(ctx context.Context, ownerID, windowID string) ([]models.Enrollment, error)
	MarkAttendance(ctx context.Context, ownerID, enrollmentID string, req models.AttendanceRequest) (*models.EnrollmentDetail, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler builds a new handler.
func NewEnrollmentHandler(service enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: service}
}

// Enroll godoc
// @Summary Enroll in an exam window
// @Description Reactivates a previously cancelled enrollment for the same window.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body models.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}
	req.ParticipantID = claims.UserID
	enrollment, err := h.service.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// ListMine godoc
// @Summary List the caller's active enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/mine [get]
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	enrollments, err := h.service.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Cancel godoc
// @Summary Cancel an enrollment before the window starts
// @Tags Enrollments
// @Param id path string true "Enrollment ID"
// @Success 204
// @Failure 412 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListByWindow godoc
// @Summary List active enrollments of an owned window
// @Tags Enrollments
// @Produce json
// @Param id path string true "Window ID"
// @Success 200 {object} response.Envelope
// @Router /exam-windows/{id}/enrollments [get]
func (h *EnrollmentHandler) ListByWindow(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	enrollments, err := h.service.ListByWindow(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// MarkAttendance godoc
// @Summary Record attendance for an enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.AttendanceRequest true "Attendance flag"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/attendance [patch]
func (h *EnrollmentHandler) MarkAttendance(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.AttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	detail, err := h.service.MarkAttendance(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
