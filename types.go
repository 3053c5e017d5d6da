package authcore

import (
	"context"
	"io"

	"github.com/mkhalev/authcore/audit"
	"github.com/mkhalev/authcore/session"
	"github.com/mkhalev/authcore/token"
)

// UserRecord is the minimal account view the core reads from the host's
// user repository. Credential material never crosses this boundary.
type UserRecord struct {
	ID    string
	Email string
	Role  string
}

// UserUpdate carries the fields an administrative operation may change.
// Nil pointers mean "leave unchanged".
type UserUpdate struct {
	Email *string
	Role  *string
}

// UserRepository is the host-implemented lookup interface. The core
// calls it for administrative operations only; it never performs
// credential comparison.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	UpdateByID(ctx context.Context, id string, update UserUpdate) error
}

// DeviceInfo identifies the requesting device.
type DeviceInfo = token.DeviceInfo

// SessionStats are aggregate session counts for the administrative
// surface.
type SessionStats = session.Stats

// AuditEntry is a single write-once audit record.
type AuditEntry = audit.Entry

// AuditSink receives audit entries from the engine's dispatcher.
type AuditSink = audit.Sink

// RequestMeta is the narrow request context constructed by the HTTP
// layer.
type RequestMeta = audit.RequestMeta

// NoOpSink discards audit entries.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit entries in a channel.
type ChannelSink = audit.ChannelSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a sink writing one JSON entry per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
