package wrpc

import "sync"

// Listener receives the restored arguments of a broadcast.
type Listener func(args []any)

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

func (e *emitter) on(name string, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = map[string][]Listener{}
	}
	e.listeners[name] = append(e.listeners[name], fn)
}

func (e *emitter) emit(name string, args []any) int {
	e.mu.RLock()
	listeners := e.listeners[name]
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(args)
	}
	return len(listeners)
}
