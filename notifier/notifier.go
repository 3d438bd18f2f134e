// Package notifier publishes pipeline events over NATS so external
// consumers (recorders, supervisors, dashboards) can observe buffer flow
// without being wired into the engine's dispatch context.
package notifier

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
)

// Event types published by the notifier.
const (
	TypeState          = "state"
	TypeInputComplete  = "input_complete"
	TypeOutputComplete = "output_complete"
)

// Event is the JSON payload published for every pipeline event.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Buffer    uint64    `json:"buffer,omitempty"`
	Stream    *int      `json:"stream,omitempty"`
	State     string    `json:"state,omitempty"`
}

// publisher is the subset of nats.Conn the notifier uses.
type publisher interface {
	Publish(subj string, data []byte) error
}

// Notifier publishes events to subjects under a configured prefix.
// A nil *Notifier is valid and publishes nothing.
type Notifier struct {
	conn   publisher
	prefix string
	logger *slog.Logger
}

// New creates a notifier on an established NATS connection. Returns nil if
// conn is nil, so callers can wire it unconditionally.
func New(conn *nats.Conn, prefix string, logger *slog.Logger) *Notifier {
	if conn == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "mediapipe.events"
	}
	return &Notifier{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "notifier"),
	}
}

// State publishes a converter lifecycle transition.
func (n *Notifier) State(state string) {
	if n == nil {
		return
	}
	n.publish(TypeState, Event{State: state})
}

// InputComplete publishes that an input buffer finished conversion on every
// stream.
func (n *Notifier) InputComplete(b *buffer.FrameBuffer) {
	if n == nil {
		return
	}
	n.publish(TypeInputComplete, Event{Buffer: uint64(b.ID())})
}

// OutputComplete publishes that one stream produced an output buffer.
func (n *Notifier) OutputComplete(streamIndex int, b *buffer.FrameBuffer) {
	if n == nil {
		return
	}
	n.publish(TypeOutputComplete, Event{
		Buffer: uint64(b.ID()),
		Stream: &streamIndex,
	})
}

func (n *Notifier) publish(eventType string, event Event) {
	event.ID = uuid.NewString()
	event.Type = eventType
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to encode event", "type", eventType, "error", err)
		return
	}

	subject := n.prefix + "." + eventType
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}
