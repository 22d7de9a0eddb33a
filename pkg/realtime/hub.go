// Package realtime fans encoded events out to websocket subscribers grouped in rooms.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNoSubscribers is returned when a room has nobody listening.
var ErrNoSubscribers = errors.New("realtime: no subscribers")

// Publisher delivers an event to every subscriber of a room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, data []byte) error
}

// Frame is the message written to subscribers.
type Frame struct {
	Event string          `json:"e"`
	Data  json.RawMessage `json:"d"`
}

// EncodeFrame builds the websocket frame for an event.
func EncodeFrame(event string, data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("realtime: event %s payload is not valid json", event)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// HubOptions tunes subscriber handling.
type HubOptions struct {
	// BufferSize is the per-subscriber outbound queue. Frames beyond it are dropped.
	BufferSize   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Hub tracks websocket subscribers per room and delivers frames without blocking publishers.
type Hub struct {
	opts   HubOptions
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

type subscriber struct {
	room string
	send chan []byte
}

// NewHub constructs an empty hub.
func NewHub(opts HubOptions, logger *zap.Logger) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 16
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{opts: opts, logger: logger, rooms: make(map[string]map[*subscriber]struct{})}
}

// Publish encodes the event and hands it to every subscriber of room.
func (h *Hub) Publish(_ context.Context, room, event string, data []byte) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	return h.deliver(room, frame)
}

// Subscribers returns the number of subscribers currently in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) deliver(room string, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.rooms[room]
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	for sub := range subs {
		select {
		case sub.send <- frame:
		default:
			h.logger.Sugar().Warnw("subscriber buffer full, dropping frame", "room", room)
		}
	}
	return nil
}

func (h *Hub) join(room string) *subscriber {
	sub := &subscriber{room: room, send: make(chan []byte, h.opts.BufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*subscriber]struct{})
	}
	h.rooms[room][sub] = struct{}{}
	return sub
}

func (h *Hub) leave(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[sub.room]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, sub.room)
	}
}

// ServeSubscriber joins conn to room and writes frames until the peer disconnects or ctx ends.
// Inbound messages are not expected; the read side is only drained for control frames.
func (h *Hub) ServeSubscriber(ctx context.Context, conn *websocket.Conn, room string) error {
	sub := h.join(room)
	defer h.leave(sub)

	h.logger.Sugar().Debugw("subscriber joined", "room", room)
	defer h.logger.Sugar().Debugw("subscriber left", "room", room)

	ctx = conn.CloseRead(ctx)
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case frame := <-sub.send:
			if err := h.write(ctx, conn, frame); err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping subscriber: %w", err)
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
