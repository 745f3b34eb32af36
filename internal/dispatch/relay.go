package dispatch

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is what a plugin listener receives.
type Event struct {
	ID        int64
	Hook      string
	Payload   json.RawMessage
	SessionID string
}

// HandlerFunc is one plugin listener for a named hook.
type HandlerFunc func(ctx context.Context, ev Event) error

// Relay is a string-keyed registry of listeners. An absent hook simply has
// zero entries for its key; it is never an error.
type Relay struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{handlers: make(map[string][]HandlerFunc)}
}

// On registers a listener for a hook name.
func (r *Relay) On(hook string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[hook] = append(r.handlers[hook], fn)
}

// Handlers returns the listeners registered for a hook.
func (r *Relay) Handlers(hook string) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HandlerFunc, len(r.handlers[hook]))
	copy(out, r.handlers[hook])
	return out
}
