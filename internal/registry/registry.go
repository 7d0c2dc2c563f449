// Package registry is the dispatch table binding XXL-JOB handler names to
// concrete Go handlers.
//
// Purpose:
//   - Map an executorHandler *string* to a concrete handler implementation
//   - Enforce a one-to-one relationship between name and handler, unless the
//     caller explicitly opts into replacement
//   - Provide a safe, concurrent lookup mechanism for the dispatch engine
//
// The registry is the only place where handler-name -> code binding happens.
// The dispatch engine never knows about business logic directly; it only
// asks the registry for the handler responsible for a given name.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xxljob/executor-go/internal/taskctx"
	"github.com/xxljob/executor-go/internal/xxlerr"
	"github.com/xxljob/executor-go/internal/xxltypes"
)

// Handler is the minimal contract required to execute a job. Every handler,
// async or blocking, implements Run; Kind determines which execution path
// the dispatch engine routes it through.
//
// Handlers must be side-effect safe under retries: the scheduler may submit
// the same jobId again after a timeout or a lost callback.
type Handler interface {
	Run(ctx *taskctx.Context) error
}

// HandlerFunc adapts a plain function to the Handler interface, mirroring
// http.HandlerFunc.
type HandlerFunc func(ctx *taskctx.Context) error

func (f HandlerFunc) Run(ctx *taskctx.Context) error { return f(ctx) }

type entry struct {
	handler Handler
	kind    xxltypes.HandlerKind
}

// Registry is a concurrency-safe map of handler name -> Handler.
//
// Invariants:
//   - At most one handler may be registered per name, unless Register is
//     called with replace=true
//   - Registration is expected to happen at process startup, but Lookup may be
//     called concurrently from many request-handling goroutines
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs an empty handler registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a handler under name. If an entry already exists for name
// and replace is false, Register returns ErrHandlerRegister so that
// misconfiguration (two pipelines fighting over one name) fails fast at
// startup rather than silently picking one.
func (r *Registry) Register(name string, h Handler, kind xxltypes.HandlerKind, replace bool) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", xxlerr.ErrHandlerRegister, name)
	}
	if name == "" {
		return fmt.Errorf("%w: empty handler name", xxlerr.ErrHandlerRegister)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists && !replace {
		return fmt.Errorf("%w: handler already registered for %q", xxlerr.ErrHandlerRegister, name)
	}
	r.entries[name] = entry{handler: h, kind: kind}
	return nil
}

// RegisterFunc is a convenience wrapper around Register for plain functions.
func (r *Registry) RegisterFunc(name string, kind xxltypes.HandlerKind, replace bool, fn func(ctx *taskctx.Context) error) error {
	return r.Register(name, HandlerFunc(fn), kind, replace)
}

// Lookup retrieves the handler registered for name.
//
// Returns:
//   - (handler, kind, true) if a handler is registered
//   - (nil, 0, false) if no handler exists for name
//
// The dispatch engine treats a miss as ErrHandlerNotFound, which the server
// adapter reports back to the scheduler as a non-retryable run failure.
func (r *Registry) Lookup(name string) (Handler, xxltypes.HandlerKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, 0, false
	}
	return e.handler, e.kind, true
}

// Names returns the sorted list of registered handler names, used by
// cmd/executor's startup logging and by tests.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
