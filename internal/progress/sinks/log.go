package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. Useful during
// development or one-off audits where a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("audit progress",
			zap.String("run_id", evt.RunID),
			zap.String("site_id", evt.SiteID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.String("verdict", evt.Verdict),
			zap.String("status", evt.Status),
			zap.Int64("count", evt.Count),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
