package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Status is the outcome recorded on an audit event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is the canonical audit record emitted for every security-relevant
// outcome. AccountID is empty for pre-authentication failures; the
// attempted identifier (username or phone number) is retained either way.
type Event struct {
	ID                  string            `json:"id,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
	Action              string            `json:"action"`
	AccountID           string            `json:"account_id,omitempty"`
	AttemptedIdentifier string            `json:"attempted_identifier,omitempty"`
	Status              Status            `json:"status"`
	Details             map[string]string `json:"details,omitempty"`
}

// Sink receives emitted audit events. Implementations must not assume
// the caller waits on them; a slow or failing sink never blocks or
// aborts the operation that produced the event.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
