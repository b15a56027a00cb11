package external

import (
	"context"
	"log/slog"

	"inkwell/internal/queue"
	"inkwell/internal/types"
)

// StubDeliverer logs instead of sending. Selected when no provider API key
// is configured, so local environments exercise the full queue path without
// outbound mail.
type StubDeliverer struct {
	logger *slog.Logger
}

// NewStubDeliverer creates the logging deliverer.
func NewStubDeliverer(logger *slog.Logger) *StubDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubDeliverer{logger: logger}
}

// Deliver logs the would-be send and reports success.
func (d *StubDeliverer) Deliver(ctx context.Context, content *types.Content, address string) (bool, error) {
	d.logger.InfoContext(ctx, "stub delivery",
		"address", address,
		"subject", content.Subject,
		"body_bytes", len(content.Body),
	)
	return true, nil
}

var _ queue.Deliverer = (*StubDeliverer)(nil)
