package notify

import (
	"context"

	"github.com/nholik/connectivity-sentinel/internal/transition"
)

// Notifier delivers connectivity transition alerts to external systems.
// Instance labels the sentinel deployment the transitions were observed from.
type Notifier interface {
	Notify(ctx context.Context, instance string, transitions []transition.ServiceTransition) error
}

func instanceLabel(instance string) string {
	if instance == "" {
		return "default"
	}
	return instance
}
