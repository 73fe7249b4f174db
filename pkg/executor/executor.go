// Package executor implements the node executor contract: one executor per
// node kind, dispatched through a registry keyed by kind. Executors never
// return raw errors across the engine boundary; every outcome is a
// NodeOutput whose status and error code the engine classifies.
//
// Executors depend on narrow facades (SubgraphRunner, WorkflowRunner,
// Clock) rather than on the engine; the engine composes them.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// Executor is the uniform execute contract for a node kind.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput
}

// SubgraphRunner traverses a loop body: the subgraph spanned by the given
// node ids inside the instance's active definition.
type SubgraphRunner interface {
	RunSubgraph(ctx context.Context, nodeIDs []string, ec *state.Context) error
}

// WorkflowRunner drives a child workflow definition to a terminal state on
// the child context.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, def *workflow.Definition, ec *state.Context) error
}

// Clock abstracts time for executors and the engine so tests control it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Registry maps node kinds to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register makes an executor dispatchable. Duplicate kinds are an error.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.executors[e.Kind()]; dup {
		return apperrors.Newf(apperrors.CodeInternal, "executor", "duplicate executor registration: %s", e.Kind())
	}
	r.executors[e.Kind()] = e
	return nil
}

// MustRegister registers or panics. Intended for composition-time wiring.
func (r *Registry) MustRegister(e Executor) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Get returns the executor for a node kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	return e, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// truthy mirrors the condition evaluator's coercion for sandbox results.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// copyVariables shallow-copies a variable bag.
func copyVariables(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
