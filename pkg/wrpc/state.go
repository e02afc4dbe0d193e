package wrpc

import (
	"context"
	"sync"
)

// StateService is the service name of the StateMirror on every worker.
const StateService = "stateWorkerService"

// StateMirror holds a worker's replica of the coordinator's shared state.
type StateMirror struct {
	mu      sync.RWMutex
	state   any
	version uint64
	changed func(any)
}

// NewStateMirror returns a mirror that calls changed, if set, after every update.
func NewStateMirror(changed func(state any)) *StateMirror {
	return &StateMirror{changed: changed}
}

// SetState replaces the mirrored state and returns the number of updates
// applied so far.
func (m *StateMirror) SetState(state any, _ *CancellationToken) uint64 {
	m.mu.Lock()
	m.state = state
	m.version++
	v := m.version
	m.mu.Unlock()

	if m.changed != nil {
		m.changed(state)
	}
	return v
}

// State returns the current state snapshot.
func (m *StateMirror) State() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// PushState replicates state to every worker's StateMirror.
func (d *Dispatcher) PushState(ctx context.Context, state any) *Future {
	return d.CallAll(ctx, StateService, "setState", state)
}
