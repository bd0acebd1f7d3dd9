package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// LogSink emits one structured log line per result.
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

// Consume logs each result; failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []archive.Result) error {
	for _, r := range batch {
		fields := []zap.Field{
			zap.String("status", string(r.Status)),
			zap.String("url", r.OriginalURL),
			zap.String("final_url", r.FinalURL),
			zap.String("path", r.SavePath),
			zap.Int("attempts", r.Attempts),
			zap.Int("bytes", r.Bytes),
			zap.Time("completed_at", r.TimestampUTC),
		}
		if r.Status == archive.StatusFail {
			s.logger.Warn("snapshot failed", append(fields, zap.String("error", r.ErrorMessage))...)
			continue
		}
		s.logger.Info("snapshot result", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
