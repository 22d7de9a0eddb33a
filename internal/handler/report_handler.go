package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-window-api/internal/service"
	"github.com/noah-isme/exam-window-api/pkg/response"
)

type rosterExporter interface {
	Roster(ctx context.Context, ownerID, windowID, format string) (*service.ExportResult, error)
}

// ReportHandler exposes document exports.
type ReportHandler struct {
	exports rosterExporter
}

// NewReportHandler constructs handler.
func NewReportHandler(exports rosterExporter) *ReportHandler {
	return &ReportHandler{exports: exports}
}

// Roster godoc
// @Summary Download the roster of an exam window
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Window ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /exam-windows/{id}/roster [get]
func (h *ReportHandler) Roster(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	result, err := h.exports.Roster(c.Request.Context(), claims.UserID, c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Body)
}
