package transition

import (
	"sort"

	"github.com/nholik/connectivity-sentinel/internal/state"
)

// ServiceTransition captures a status transition with details.
type ServiceTransition struct {
	Name           string
	DisplayName    string
	PreviousStatus state.Status
	CurrentStatus  state.Status
	HTTPStatus     *int
	Endpoint       string
	Errors         []string
	RequestID      string
	DurationMS     int64
}

// DetectServiceTransitions compares previous snapshots with the current ones
// and emits transitions. On the first observation of a service only non-up
// statuses are reported.
func DetectServiceTransitions(prev map[string]state.ServiceSnapshot, current map[string]state.ServiceSnapshot) []ServiceTransition {
	if prev == nil {
		prev = map[string]state.ServiceSnapshot{}
	}

	transitions := make([]ServiceTransition, 0)
	for name, snap := range current {
		prevSnap, hadPrev := prev[name]
		prevStatus := prevSnap.Status
		if prevSnap.LastNotifiedStatus != "" {
			prevStatus = prevSnap.LastNotifiedStatus
		}

		if hadPrev {
			if prevStatus == snap.Status {
				continue
			}
		} else if snap.Status == state.StatusUp {
			continue
		}

		transitions = append(transitions, ServiceTransition{
			Name:           name,
			PreviousStatus: prevStatus,
			CurrentStatus:  snap.Status,
			HTTPStatus:     snap.HTTPStatus,
			Endpoint:       snap.Endpoint,
			Errors:         append([]string(nil), snap.Errors...),
			RequestID:      snap.RequestID,
			DurationMS:     snap.DurationMS,
		})
	}

	// Sort by service name for deterministic output
	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Name < transitions[j].Name
	})

	return transitions
}
