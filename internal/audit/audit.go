package audit

import (
	"context"
	"log/slog"

	"github.com/datatalk/datatalk/internal/observability"
)

// Entry is written exactly once per request, after the terminal state is
// known. It is constructed at the end of request handling and never mutated
// afterwards.
type Entry struct {
	Dataset          string
	Intent           string
	SQLText          string
	RowCount         int
	DurationMS       int64
	Status           string
	Error            string
	RequestIP        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// BestEffort wraps a sink so that recording can never fail the request:
// errors are logged and counted, then discarded.
type BestEffort struct {
	sink   Sink
	logger *slog.Logger
}

func NewBestEffort(sink Sink, logger *slog.Logger) *BestEffort {
	return &BestEffort{sink: sink, logger: logger}
}

func (b *BestEffort) Record(ctx context.Context, entry Entry) error {
	if b.sink == nil {
		return nil
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			observability.IncrementAuditFailure()
			if b.logger != nil {
				b.logger.Error("audit sink panicked", slog.Any("panic", recovered))
			}
		}
	}()
	if err := b.sink.Record(ctx, entry); err != nil {
		observability.IncrementAuditFailure()
		if b.logger != nil {
			b.logger.Error("audit write failed", slog.Any("error", err))
		}
	}
	return nil
}

// LogSink writes audit entries to the structured log. It is the fallback
// when no audit database is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Record(ctx context.Context, entry Entry) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.InfoContext(ctx, "audit",
		slog.String("dataset", entry.Dataset),
		slog.String("intent", entry.Intent),
		slog.String("sql", entry.SQLText),
		slog.Int("row_count", entry.RowCount),
		slog.Int64("duration_ms", entry.DurationMS),
		slog.String("status", entry.Status),
		slog.String("error", entry.Error),
		slog.String("request_ip", entry.RequestIP),
		slog.String("model", entry.Model),
		slog.Int("total_tokens", entry.TotalTokens),
	)
	return nil
}
