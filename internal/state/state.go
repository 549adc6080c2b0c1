package state

import (
	"context"
	"time"

	"github.com/nholik/connectivity-sentinel/internal/probe"
)

// Status is the monitor's classification of a probed service.
type Status string

const (
	StatusUp Status = "up"
	// StatusDegraded means the service answered but the probe did not pass,
	// typically an auth rejection.
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// ServiceSnapshot captures the persisted outcome of the last probe of a service.
type ServiceSnapshot struct {
	Status             Status    `json:"status"`
	HTTPStatus         *int      `json:"http_status,omitempty"`
	Endpoint           string    `json:"endpoint,omitempty"`
	Errors             []string  `json:"errors,omitempty"`
	RequestID          string    `json:"request_id"`
	DurationMS         int64     `json:"duration_ms"`
	CheckedAt          time.Time `json:"checked_at"`
	LastNotifiedStatus Status    `json:"last_notified_status,omitempty"`
}

// State stores snapshots for all services.
type State struct {
	Services map[string]ServiceSnapshot `json:"services"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// Classify maps a probe result onto a monitor status.
func Classify(res probe.Result) Status {
	switch {
	case res.OK:
		return StatusUp
	case res.Reachable:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// SnapshotFromResult builds the persisted view of res.
func SnapshotFromResult(res probe.Result, checkedAt time.Time) ServiceSnapshot {
	var httpStatus *int
	if res.HTTPStatus != nil {
		code := *res.HTTPStatus
		httpStatus = &code
	}
	return ServiceSnapshot{
		Status:     Classify(res),
		HTTPStatus: httpStatus,
		Endpoint:   res.Endpoint,
		Errors:     append([]string(nil), res.Errors...),
		RequestID:  res.RequestID,
		DurationMS: res.DurationMS,
		CheckedAt:  checkedAt.UTC(),
	}
}
