package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the caller-supplied portion of an audit entry. ID and
// Timestamp are assigned by the logger.
type Record struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Previous     map[string]string
	Next         map[string]string
	Meta         RequestMeta
}

// Logger builds immutable audit entries and hands them to an async
// dispatcher. Recording is fire-and-forget: a slow or failing sink can
// never fail or roll back the operation that produced the entry.
type Logger struct {
	disp *Dispatcher
	now  func() time.Time
}

// NewLogger creates a Logger dispatching to sink. A nil sink discards
// all entries.
func NewLogger(sink Sink, cfg DispatcherConfig) *Logger {
	return &Logger{
		disp: NewDispatcher(cfg, sink),
		now:  time.Now,
	}
}

// Write describes the entry actually emitted, for callers that need the
// generated ID (tests, correlation).
func (l *Logger) Write(ctx context.Context, rec Record) Entry {
	entry := Entry{
		ID:           uuid.NewString(),
		Actor:        rec.Actor,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Previous:     rec.Previous,
		Next:         rec.Next,
		IP:           rec.Meta.IP,
		UserAgent:    rec.Meta.UserAgent,
		Timestamp:    l.now().UTC(),
	}
	l.disp.Emit(ctx, entry)
	return entry
}

// Record emits an audit entry for the given actor and action.
func (l *Logger) Record(ctx context.Context, rec Record) {
	if l == nil {
		return
	}
	l.Write(ctx, rec)
}

// Dropped reports entries discarded under backpressure.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.disp.Dropped()
}

// Close drains the dispatcher. Call once during shutdown.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.disp.Close()
}
