package notify

import (
	"context"

	"trader-agent/internal/types"
)

// Notifier delivers a run summary to an external channel. Delivery failure
// is logged by callers and never fails a run.
type Notifier interface {
	Send(ctx context.Context, s types.NotificationSummary) error
}

// Noop swallows notifications when no webhook is configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, s types.NotificationSummary) error { return nil }
