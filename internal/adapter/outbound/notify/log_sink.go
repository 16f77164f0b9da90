package notify

import (
	"context"
	"log/slog"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

var logFieldOrder = []string{
	"caller", "user", "role", "action", "contract",
	"confidence", "score", "model_version", "confidence_threshold", "risk_threshold",
}

// LogSink writes every notification as a structured log record.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs notifications at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

// Emit logs n with only the fields its kind sets.
func (s *LogSink) Emit(ctx context.Context, n notify.Notification) error {
	fields := n.Fields()
	attrs := []slog.Attr{slog.String("kind", string(n.Kind)), slog.String("id", n.ID)}
	for _, k := range logFieldOrder {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				attrs = append(attrs, slog.String(k, v))
			}
		case int64:
			if v != 0 {
				attrs = append(attrs, slog.Int64(k, v))
			}
		}
	}
	s.logger.LogAttrs(ctx, s.level, "notification", attrs...)
	return nil
}

var _ notify.Sink = (*LogSink)(nil)
