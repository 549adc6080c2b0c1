package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/transition"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, instance string, transitions []transition.ServiceTransition) error {
	for _, change := range transitions {
		event := n.logger.Info().
			Str("instance", instanceLabel(instance)).
			Str("service", change.Name).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Str("request_id", change.RequestID).
			Strs("errors", change.Errors)
		if change.HTTPStatus != nil {
			event = event.Int("http_status", *change.HTTPStatus)
		}
		event.Msg("[DRY-RUN] Would notify")
	}
	return nil
}
