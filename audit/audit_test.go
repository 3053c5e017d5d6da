package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestLoggerAssignsIDAndTimestamp(t *testing.T) {
	sink := NewChannelSink(4)
	logger := NewLogger(sink, DispatcherConfig{BufferSize: 4})
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	logger.now = func() time.Time { return at }

	written := logger.Write(context.Background(), Record{
		Actor:        "u1",
		Action:       "auth.login",
		ResourceType: "session",
		ResourceID:   "s1",
		Meta:         RequestMeta{IP: "10.0.0.1", UserAgent: "cli/1.0"},
	})
	logger.Close()

	if written.ID == "" {
		t.Fatal("entry must get an id")
	}
	if !written.Timestamp.Equal(at) || written.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp must be the logger clock in UTC: %v", written.Timestamp)
	}

	got := <-sink.Entries()
	if got.ID != written.ID || got.Actor != "u1" || got.IP != "10.0.0.1" {
		t.Fatalf("wrong delivered entry: %+v", got)
	}

	second := logger.Write(context.Background(), Record{Action: "auth.login"})
	if second.ID == written.ID {
		t.Fatal("ids must be unique per entry")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Record(context.Background(), Record{Action: "auth.login"})
	if logger.Dropped() != 0 {
		t.Fatal("nil logger reports zero drops")
	}
	logger.Close()
}

func TestJSONWriterSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	ctx := context.Background()

	sink.Emit(ctx, Entry{
		ID:        "e1",
		Actor:     "u1",
		Action:    "auth.login",
		Next:      map[string]string{"active": "true"},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	sink.Emit(ctx, Entry{ID: "e2", Action: "auth.logout"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %d", len(lines))
	}

	var first Entry
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.ID != "e1" || first.Actor != "u1" || first.Next["active"] != "true" {
		t.Fatalf("wrong first entry: %+v", first)
	}
}

// gateSink blocks deliveries until released, to pin the dispatcher
// worker while the buffer fills.
type gateSink struct {
	started chan struct{}
	release chan struct{}

	mu        sync.Mutex
	delivered []Entry
}

func newGateSink() *gateSink {
	return &gateSink{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (s *gateSink) Emit(_ context.Context, entry Entry) {
	s.started <- struct{}{}
	<-s.release

	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, entry)
}

func (s *gateSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func TestDispatcherDropsUnderBackpressure(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink)
	ctx := context.Background()

	d.Emit(ctx, Entry{ID: "a"})
	// Wait until the worker holds "a", so the single buffer slot is the
	// only capacity left.
	<-sink.started

	d.Emit(ctx, Entry{ID: "b"})
	d.Emit(ctx, Entry{ID: "c"})
	d.Emit(ctx, Entry{ID: "d"})

	if got := d.Dropped(); got != 2 {
		t.Fatalf("want 2 dropped, got %d", got)
	}

	close(sink.release)
	d.Close()

	if got := sink.count(); got != 2 {
		t.Fatalf("want 2 delivered, got %d", got)
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(DispatcherConfig{BufferSize: 16}, sink)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Emit(ctx, Entry{Action: "auth.login"})
	}
	d.Close()

	delivered := 0
	for {
		select {
		case <-sink.Entries():
			delivered++
		default:
			if delivered != 5 {
				t.Fatalf("want 5 delivered, got %d", delivered)
			}
			return
		}
	}
}

func TestDispatcherIgnoresEmitAfterClose(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, sink)
	d.Close()

	d.Emit(context.Background(), Entry{Action: "auth.login"})
	select {
	case e := <-sink.Entries():
		t.Fatalf("entry delivered after close: %+v", e)
	default:
	}
	if d.Dropped() != 0 {
		t.Fatal("post-close emits are ignored, not counted as drops")
	}
}
