package approval

import (
	"context"
	"sync"

	dErrors "custos/pkg/domain-errors"
)

// Handler executes the deferred side effect for one change-type after the
// request is approved. Handlers must be idempotent: a retry after a partial
// failure may run them again. Each handler validates its own payload shape.
type Handler func(ctx context.Context, req *Request) error

// Dispatcher maps change-type tags to handlers. Handlers are registered at
// startup; registration after requests start flowing is safe but unusual.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to a change-type. Registering the same type twice
// replaces the previous handler.
func (d *Dispatcher) Register(changeType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[changeType] = handler
}

func (d *Dispatcher) lookup(changeType string) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handler, ok := d.handlers[changeType]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInternal, "no handler registered for change type %q", changeType)
	}
	return handler, nil
}
