package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Result carries a successful handler's output: the payload to store as the
// command's reply and, optionally, the domain event type to publish
// alongside it (spec §4.3 step 6, "type from the handler").
type Result struct {
	Payload   json.RawMessage
	EventType string
}

// Handler executes the business logic associated with a command name.
// Handlers run outside any database transaction; the Worker Runtime holds
// the processing lease open while HandleCommand runs. A returned error
// wrapped as *PermanentError or *TransientError is classified accordingly;
// any other error is treated as transient (spec §4.3 step 5).
type Handler interface {
	HandleCommand(ctx context.Context, cmd *Command) (*Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd *Command) (*Result, error)

// HandleCommand implements Handler.
func (f HandlerFunc) HandleCommand(ctx context.Context, cmd *Command) (*Result, error) {
	return f(ctx, cmd)
}

// Registry maps a command name to exactly one handler. Registration is
// exclusive: registering a second handler for a name already claimed is a
// startup-time configuration error, not a runtime condition.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds handler to name. It panics if name is already registered,
// matching the fail-fast requirement for handler configuration: a silent
// second registration would mean commands of that name are processed
// inconsistently depending on ordering.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("command: handler already registered for %q", name))
	}
	r.handlers[name] = handler
}

// Lookup returns the handler registered for name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
