package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	"github.com/noah-isme/exam-window-api/pkg/clock"
	"github.com/noah-isme/exam-window-api/pkg/jobs"
	"github.com/noah-isme/exam-window-api/pkg/realtime"
)

const (
	// StatusUpdateEvent is the event name dashboards listen to.
	StatusUpdateEvent = "su"
	statusChangeType  = "sc"
	ownerRoomPrefix   = "owner:"
	broadcastJobType  = "status_update"
)

// OwnerRoom returns the realtime room of an owner's dashboards.
func OwnerRoom(ownerID string) string {
	return ownerRoomPrefix + ownerID
}

type statusPayload struct {
	Type      string                `json:"t"`
	Changes   []statusPayloadChange `json:"c"`
	Timestamp int64                 `json:"ts"`
}

type statusPayloadChange struct {
	ID        string             `json:"i"`
	State     models.WindowState `json:"s"`
	Timestamp int64              `json:"ts"`
}

type statusDelivery struct {
	room string
	data []byte
}

// BroadcasterConfig sizes the delivery queue.
type BroadcasterConfig struct {
	BufferSize      int
	DeliveryTimeout time.Duration
}

// StatusBroadcaster pushes status changes to the owner's dashboards. Publishing never blocks:
// payloads are queued for a single delivery worker and dropped when the queue is full. Delivery is
// at-most-once.
type StatusBroadcaster struct {
	publisher realtime.Publisher
	queue     *jobs.Queue
	clock     clock.Clock
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewStatusBroadcaster constructs the broadcaster. Call Start before publishing.
func NewStatusBroadcaster(publisher realtime.Publisher, cfg BroadcasterConfig, clk clock.Clock, metrics *MetricsService, logger *zap.Logger) *StatusBroadcaster {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &StatusBroadcaster{publisher: publisher, clock: clk, metrics: metrics, logger: logger}
	b.queue = jobs.NewQueue("status-broadcast", b.deliver, jobs.QueueConfig{
		Workers:        1,
		BufferSize:     cfg.BufferSize,
		HandlerTimeout: cfg.DeliveryTimeout,
		Logger:         logger,
	})
	return b
}

// Start launches the delivery worker.
func (b *StatusBroadcaster) Start(ctx context.Context) {
	b.queue.Start(ctx)
}

// Stop halts delivery; queued notifications are discarded.
func (b *StatusBroadcaster) Stop() {
	b.queue.Stop()
}

// Publish queues changes for ownerID's dashboards. It is also the NotifyStatusChange entry point
// for the realtime transport.
func (b *StatusBroadcaster) Publish(ownerID string, changes []models.StatusChange) {
	if ownerID == "" || len(changes) == 0 || b.publisher == nil {
		return
	}
	data, err := EncodeStatusPayload(changes, b.clock.Now())
	if err != nil {
		b.logger.Sugar().Errorw("encode status payload", "owner_id", ownerID, "error", err)
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    broadcastJobType,
		Payload: statusDelivery{room: OwnerRoom(ownerID), data: data},
	}
	if !b.queue.TryEnqueue(job) {
		b.metrics.ObserveBroadcast(BroadcastDropped)
		b.logger.Sugar().Debugw("status notification dropped", "owner_id", ownerID, "changes", len(changes))
	}
}

func (b *StatusBroadcaster) deliver(ctx context.Context, job jobs.Job) error {
	delivery, ok := job.Payload.(statusDelivery)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	err := b.publisher.Publish(ctx, delivery.room, StatusUpdateEvent, delivery.data)
	switch {
	case err == nil:
		b.metrics.ObserveBroadcast(BroadcastSent)
		return nil
	case errors.Is(err, realtime.ErrNoSubscribers):
		b.metrics.ObserveBroadcast(BroadcastNoSubscribers)
		return nil
	default:
		b.metrics.ObserveBroadcast(BroadcastFailed)
		return err
	}
}

// EncodeStatusPayload renders the abbreviated wire payload for a batch of changes.
func EncodeStatusPayload(changes []models.StatusChange, now time.Time) ([]byte, error) {
	payload := statusPayload{
		Type:      statusChangeType,
		Changes:   make([]statusPayloadChange, len(changes)),
		Timestamp: now.UnixMilli(),
	}
	for i, change := range changes {
		payload.Changes[i] = statusPayloadChange{
			ID:        change.WindowID,
			State:     change.NewState,
			Timestamp: change.Timestamp.UnixMilli(),
		}
	}
	return json.Marshal(payload)
}
