package audit

import (
	"context"

	"go.uber.org/zap"
)

// ZapSink emits audit entries as structured zap log records. Suitable
// when the host application already ships zap output to a durable
// aggregator.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log}
}

func (s *ZapSink) Emit(_ context.Context, entry Entry) {
	fields := []zap.Field{
		zap.String("audit_id", entry.ID),
		zap.String("actor", entry.Actor),
		zap.String("action", entry.Action),
		zap.Time("timestamp", entry.Timestamp),
	}
	if entry.ResourceType != "" {
		fields = append(fields, zap.String("resource_type", entry.ResourceType))
	}
	if entry.ResourceID != "" {
		fields = append(fields, zap.String("resource_id", entry.ResourceID))
	}
	if entry.IP != "" {
		fields = append(fields, zap.String("ip", entry.IP))
	}
	if entry.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", entry.UserAgent))
	}
	if len(entry.Previous) > 0 {
		fields = append(fields, zap.Any("previous", entry.Previous))
	}
	if len(entry.Next) > 0 {
		fields = append(fields, zap.Any("next", entry.Next))
	}

	s.log.Info("audit", fields...)
}
