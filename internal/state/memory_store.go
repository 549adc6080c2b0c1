package state

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process memory. It is used when no state path
// is configured.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: State{Services: map[string]ServiceSnapshot{}}}
}

// Load returns a copy of the stored state.
func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone(), nil
}

// Save replaces the stored state with a copy of state.
func (s *MemoryStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.clone()
	return nil
}

func (s State) clone() State {
	out := State{Services: make(map[string]ServiceSnapshot, len(s.Services))}
	for name, snap := range s.Services {
		snap.Errors = append([]string(nil), snap.Errors...)
		if snap.HTTPStatus != nil {
			code := *snap.HTTPStatus
			snap.HTTPStatus = &code
		}
		out.Services[name] = snap
	}
	return out
}
