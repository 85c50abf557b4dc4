package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *recordingSink) Emit(ctx context.Context, event Event) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &recordingSink{})
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero")
	}
}

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 128}, sink)

	for i := 0; i < 100; i++ {
		d.Emit(context.Background(), Event{EventType: "challenge_issued", Identity: string(rune('a' + i%26))})
	}
	d.Close()
	d.Close()

	if sink.len() != 100 || d.Delivered() != 100 {
		t.Fatalf("expected 100 delivered, got sink=%d counter=%d", sink.len(), d.Delivered())
	}
	for i, ev := range sink.events {
		if ev.Identity != string(rune('a'+i%26)) {
			t.Fatalf("event %d out of order: %+v", i, ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("timestamp must be filled in")
		}
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if sink.len() != 100 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{EventType: "verify_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}

	close(sink.block)
	d.Close()
	if got := d.Dropped() + d.Delivered(); got != 20 {
		t.Fatalf("every event must be delivered or dropped, got %d", got)
	}
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.block)
		d.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	for i := 0; i < 3; i++ {
		d.Emit(ctx, Event{EventType: "challenge_failed"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected the timed-out emit to count as dropped")
	}
}

func TestDispatcherSinkTimeout(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, SinkTimeout: 10 * time.Millisecond}, sink)

	d.Emit(context.Background(), Event{EventType: "retention_sweep"})
	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink timeout did not unblock the worker")
	}
	close(sink.block)
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "verify_success", Identity: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "verify_failure", Identity: "u1", Error: "code_incorrect"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventType != "verify_failure" || ev.Error != "code_incorrect" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	var nilSink *JSONWriterSink
	nilSink.Emit(context.Background(), ev)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONWriterSinkReportsWriteFailures(t *testing.T) {
	var reported []error
	sink := NewJSONWriterSink(failingWriter{}).OnError(func(err error) {
		reported = append(reported, err)
	})

	sink.Emit(context.Background(), Event{EventType: "verify_success", Identity: "u1"})
	sink.Emit(context.Background(), Event{EventType: "retention_sweep"})

	if sink.Failures() != 2 || len(reported) != 2 {
		t.Fatalf("expected 2 failures, got %d (reported %d)", sink.Failures(), len(reported))
	}
	if !strings.Contains(reported[0].Error(), "verify_success") || !strings.Contains(reported[0].Error(), "disk full") {
		t.Fatalf("unexpected error: %v", reported[0])
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{EventType: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, Event{EventType: "b"})

	if ev := <-sink.Events(); ev.EventType != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case ev := <-sink.Events():
		t.Fatalf("cancelled emit must not enqueue, got %+v", ev)
	default:
	}
}
