package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-window-api/internal/service"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
)

type rosterExporterMock struct {
	result   *service.ExportResult
	err      error
	ownerID  string
	windowID string
	format   string
}

func (m *rosterExporterMock) Roster(ctx context.Context, ownerID, windowID, format string) (*service.ExportResult, error) {
	m.ownerID, m.windowID, m.format = ownerID, windowID, format
	return m.result, m.err
}

func TestReportHandlerRosterStreamsAttachment(t *testing.T) {
	exporter := &rosterExporterMock{result: &service.ExportResult{
		Filename:    "roster_exam-1_20260302_090000.csv",
		ContentType: "text/csv",
		Body:        []byte("No,Participant,Enrolled At,Attended\n"),
	}}
	handler := NewReportHandler(exporter)

	c, w := newGinContext(http.MethodGet, "/exam-windows/w-1/roster?format=csv", nil)
	c.Params = gin.Params{{Key: "id", Value: "w-1"}}
	asProfessor(c, "prof-1")

	handler.Roster(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "prof-1", exporter.ownerID)
	assert.Equal(t, "w-1", exporter.windowID)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, `attachment; filename="roster_exam-1_20260302_090000.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "No,Participant,Enrolled At,Attended\n", w.Body.String())
}

func TestReportHandlerRosterDisabled(t *testing.T) {
	handler := NewReportHandler(&rosterExporterMock{err: appErrors.Clone(appErrors.ErrFeatureDisabled, "roster export disabled")})

	c, w := newGinContext(http.MethodGet, "/exam-windows/w-1/roster", nil)
	c.Params = gin.Params{{Key: "id", Value: "w-1"}}
	asProfessor(c, "prof-1")

	handler.Roster(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrFeatureDisabled.Code, decodeEnvelope(t, w)["error"].(map[string]interface{})["code"])
}

func TestReportHandlerRosterRequiresClaims(t *testing.T) {
	handler := NewReportHandler(&rosterExporterMock{})

	c, w := newGinContext(http.MethodGet, "/exam-windows/w-1/roster", nil)
	handler.Roster(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
