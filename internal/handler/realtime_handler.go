package handler

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
	"github.com/noah-isme/exam-window-api/pkg/middleware/cors"
	"github.com/noah-isme/exam-window-api/pkg/response"
)

type ticketService interface {
	IssueRealtimeTicket(ownerID string) (*models.RealtimeTicket, error)
	RedeemRealtimeTicket(ticket string) (string, error)
}

type roomServer interface {
	ServeSubscriber(ctx context.Context, conn *websocket.Conn, room string) error
}

// RealtimeHandler hands out subscription tickets and upgrades dashboard connections.
type RealtimeHandler struct {
	tickets        ticketService
	hub            roomServer
	allowedOrigins []string
	logger         *zap.Logger
}

// NewRealtimeHandler constructs handler.
func NewRealtimeHandler(tickets ticketService, hub roomServer, allowedOrigins []string, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{tickets: tickets, hub: hub, allowedOrigins: allowedOrigins, logger: logger}
}

// IssueTicket godoc
// @Summary Issue a realtime subscription ticket
// @Description The ticket is short-lived and grants the caller's status room.
// @Tags Realtime
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /realtime/tickets [post]
func (h *RealtimeHandler) IssueTicket(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	ticket, err := h.tickets.IssueRealtimeTicket(claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ticket)
}

// Subscribe godoc
// @Summary Subscribe to window status updates
// @Description Upgrades to a websocket streaming frames {"e":"su","d":{...}} for the ticket's room.
// @Tags Realtime
// @Param ticket query string true "Subscription ticket"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /realtime/ws [get]
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	room, err := h.tickets.RedeemRealtimeTicket(c.Query("ticket"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !cors.Allows(h.allowedOrigins, c.GetHeader("Origin")) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "origin not allowed"))
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Sugar().Debugw("websocket upgrade failed", "room", room, "error", err)
		return
	}
	defer conn.CloseNow()

	if err := h.hub.ServeSubscriber(c.Request.Context(), conn, room); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Sugar().Debugw("subscriber disconnected", "room", room, "error", err)
	}
}
