package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Event is the canonical audit event model used by internal dispatching and root APIs.
type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	Identity      string            `json:"identity,omitempty"`
	SourceAddress string            `json:"source_address,omitempty"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
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

// JSONWriterSink writes one JSON object per line. Each event is written with a
// single Write call so lines from concurrent emitters never interleave.
type JSONWriterSink struct {
	writer   io.Writer
	onError  func(error)
	mu       sync.Mutex
	failures atomic.Uint64
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// OnError registers fn to be called with every failed write. Call before the
// sink is handed to a dispatcher.
func (s *JSONWriterSink) OnError(fn func(error)) *JSONWriterSink {
	s.onError = fn
	return s
}

// Failures reports how many events could not be written.
func (s *JSONWriterSink) Failures() uint64 {
	if s == nil {
		return 0
	}
	return s.failures.Load()
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.fail(fmt.Errorf("audit: encode %s event: %w", event.EventType, err))
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, err = s.writer.Write(data)
	s.mu.Unlock()
	if err != nil {
		s.fail(fmt.Errorf("audit: write %s event: %w", event.EventType, err))
	}
}

func (s *JSONWriterSink) fail(err error) {
	s.failures.Add(1)
	if s.onError != nil {
		s.onError(err)
	}
}
