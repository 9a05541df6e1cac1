package eventlog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.Uint64("conn_id", event.ConnectionID),
		slog.String("category", event.Category.String()),
	}
	if event.Profile != "" {
		attrs = append(attrs, slog.String("profile", event.Profile))
	}
	if event.OldValue != "" {
		attrs = append(attrs, slog.String("old", event.OldValue))
	}
	if event.NewValue != "" {
		attrs = append(attrs, slog.String("new", event.NewValue))
	}
	if event.Category == CategoryRetry {
		attrs = append(attrs,
			slog.Duration("retry_in", event.RetryIn),
			slog.Duration("retry_timeout", event.RetryTimeout),
		)
	}
	if n := len(event.Remediation); n > 0 {
		attrs = append(attrs, slog.Int("remediation", n))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "vpn", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
