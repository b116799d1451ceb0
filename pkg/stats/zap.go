package stats

import (
	"context"

	"go.uber.org/zap"
)

// LogRecorder writes one structured log line per admission decision.
//
// Denials log at warn, admissions at debug, so a production logger at
// info level only surfaces the interesting half.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder. A nil logger records nothing.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (l *LogRecorder) Record(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("key", ev.Key),
		zap.String("algorithm", ev.Algorithm),
		zap.Time("at", ev.At),
	}
	if ev.Allowed {
		l.logger.Debug("request admitted", fields...)
	} else {
		l.logger.Warn("request rate limited", fields...)
	}
	return nil
}
