// Package engine drives workflow instances: it walks the node graph one
// node at a time, applies per-node retry and timeout policy, routes
// conditional branches, traverses loop bodies on behalf of the loop
// executor and persists a snapshot after every node.
//
// The engine owns no node semantics. Node behavior lives in the executor
// registry; the engine classifies each NodeOutput, decides whether to
// retry, and picks the next node.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/executor"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/store"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// Status is the lifecycle state of one instance.
type Status string

// Instance lifecycle states. AwaitingInput and Running alternate while
// user-input nodes block on the bridge.
const (
	StatusCreated       Status = "created"
	StatusRunning       Status = "running"
	StatusAwaitingInput Status = "awaiting-input"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Config tunes the engine.
type Config struct {
	// EventBuffer is the per-instance event channel capacity.
	EventBuffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{EventBuffer: 64}
}

// Engine runs workflow instances against a shared executor registry.
type Engine struct {
	cfg       Config
	executors *executor.Registry
	states    *store.StateStore
	clock     executor.Clock
	logger    *slog.Logger
	metrics   *Metrics

	mu        sync.RWMutex
	instances map[string]*Instance
}

// New creates an engine. The registry may be populated after construction;
// executors are resolved per node at execution time.
func New(cfg Config, executors *executor.Registry, states *store.StateStore, clock executor.Clock, logger *slog.Logger, metrics *Metrics) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if clock == nil {
		clock = executor.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		executors: executors,
		states:    states,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		instances: make(map[string]*Instance),
	}
}

// Executors exposes the registry for composition-time wiring.
func (e *Engine) Executors() *executor.Registry { return e.executors }

// Instance is one running (or finished) workflow execution.
type Instance struct {
	engine *Engine
	ctx    *state.Context
	def    *workflow.Definition
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	status Status
	err    error
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.ctx.InstanceID }

// WorkflowID returns the id of the definition this instance runs.
func (i *Instance) WorkflowID() string { return i.ctx.WorkflowID }

// Status returns the current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Err returns the terminal error, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Events exposes the instance event stream. Events are dropped, not
// buffered indefinitely, when the consumer falls behind.
func (i *Instance) Events() <-chan Event { return i.events }

// Done closes when the instance reaches a terminal state.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Context returns the instance's execution context. Safe to read only
// after Done closes.
func (i *Instance) Context() *state.Context { return i.ctx }

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

func (i *Instance) finish(s Status, err error) {
	i.mu.Lock()
	i.status = s
	i.err = err
	i.mu.Unlock()
	close(i.done)
}

// StartOptions parameterize a new instance.
type StartOptions struct {
	ProjectFolder string
	Variables     map[string]any
	UserID        string
	SeriesID      string
}

// StartInstance validates the definition, creates the instance context and
// launches the run goroutine. The returned instance is already RUNNING or
// about to be.
func (e *Engine) StartInstance(ctx context.Context, def *workflow.Definition, opts StartOptions) (*Instance, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	entry, ok := def.EntryNode()
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeDefinition, "engine",
			"workflow %s has no unique entry node", def.ID)
	}

	ec := state.New(def.ID, opts.ProjectFolder, opts.Variables, e.clock.Now())
	ec.UserID = opts.UserID
	ec.SeriesID = opts.SeriesID
	ec.Definition = def

	runCtx, cancel := context.WithCancel(ctx)
	inst := &Instance{
		engine: e,
		ctx:    ec,
		def:    def,
		cancel: cancel,
		events: make(chan Event, e.cfg.EventBuffer),
		done:   make(chan struct{}),
		status: StatusCreated,
	}

	e.mu.Lock()
	e.instances[ec.InstanceID] = inst
	e.mu.Unlock()

	e.metrics.instanceStarted()
	e.logger.Info("instance started",
		"instance_id", ec.InstanceID, "workflow_id", def.ID, "entry_node", entry.ID)

	go e.run(runCtx, inst, entry)
	return inst, nil
}

// GetInstance looks up a live or finished instance.
func (e *Engine) GetInstance(instanceID string) (*Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[instanceID]
	return inst, ok
}

// CancelInstance requests cooperative cancellation. The instance reaches
// CANCELLED once the current node observes the context.
func (e *Engine) CancelInstance(instanceID string) error {
	inst, ok := e.GetInstance(instanceID)
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "engine", "no instance %s", instanceID)
	}
	inst.cancel()
	return nil
}

// AwaitInstance blocks until the instance finishes or ctx expires.
func (e *Engine) AwaitInstance(ctx context.Context, inst *Instance) (Status, error) {
	select {
	case <-inst.Done():
		return inst.Status(), inst.Err()
	case <-ctx.Done():
		return inst.Status(), apperrors.New(apperrors.CodeCancelled, "engine", "await interrupted", ctx.Err())
	}
}

func (e *Engine) run(ctx context.Context, inst *Instance, entry *workflow.Node) {
	defer inst.cancel()

	inst.setStatus(StatusRunning)
	err := e.walkFrom(ctx, inst.def, inst.ctx, entry, nil, false, inst)

	var status Status
	var event EventType
	switch {
	case err == nil:
		status, event = StatusSucceeded, EventInstanceSucceeded
	case apperrors.CodeOf(err) == apperrors.CodeCancelled:
		status, event = StatusCancelled, EventInstanceCancelled
	default:
		status, event = StatusFailed, EventInstanceFailed
	}

	inst.finish(status, err)
	ev := Event{Type: event, InstanceID: inst.ID(), Timestamp: e.clock.Now()}
	if err != nil {
		ev.Data = map[string]any{"error": err.Error(), "errorCode": string(apperrors.CodeOf(err))}
	}
	inst.publish(ev)
	close(inst.events)

	e.metrics.instanceFinished(status)
	if err != nil {
		e.logger.Error("instance finished",
			"instance_id", inst.ID(), "status", status, "error", err)
	} else {
		e.logger.Info("instance finished", "instance_id", inst.ID(), "status", status)
	}
}

// walkFrom executes nodes sequentially from start until the path ends or a
// node fails. allowed restricts traversal to a loop body; inLoop switches
// output recording to overwrite semantics. inst is nil for loop bodies and
// child workflows, which do not emit instance events.
func (e *Engine) walkFrom(ctx context.Context, def *workflow.Definition, ec *state.Context, start *workflow.Node, allowed map[string]bool, inLoop bool, inst *Instance) error {
	node := start
	for node != nil {
		if err := ctx.Err(); err != nil {
			return apperrors.New(apperrors.CodeCancelled, "engine", "instance cancelled", err)
		}

		ec.CurrentNodeID = node.ID
		if inst != nil {
			if node.Kind == workflow.KindUserInput {
				inst.setStatus(StatusAwaitingInput)
				inst.publish(Event{Type: EventInputRequired, InstanceID: inst.ID(), NodeID: node.ID, Timestamp: e.clock.Now()})
			}
			inst.publish(Event{Type: EventNodeStarted, InstanceID: inst.ID(), NodeID: node.ID, Timestamp: e.clock.Now()})
		}

		started := e.clock.Now()
		out, attempts := e.executeWithRetry(ctx, node, ec)
		e.metrics.observeNode(node.Kind, out.Status, e.clock.Now().Sub(started))

		if inst != nil && node.Kind == workflow.KindUserInput {
			inst.setStatus(StatusRunning)
		}

		if inLoop {
			ec.RecordLoopOutput(out)
		} else if err := ec.RecordOutput(out); err != nil {
			return err
		}
		if e.states != nil {
			e.states.Save(ec)
		}

		if !out.Success() {
			if inst != nil {
				inst.publish(Event{
					Type: EventNodeFailed, InstanceID: inst.ID(), NodeID: node.ID, Timestamp: e.clock.Now(),
					Data: map[string]any{"error": out.Error, "errorCode": string(out.ErrorCode), "attempts": attempts},
				})
			}
			return workflow.NewNodeError(node, attempts,
				apperrors.New(out.ErrorCode, "engine", out.Error, nil))
		}
		if inst != nil {
			inst.publish(Event{Type: EventNodeCompleted, InstanceID: inst.ID(), NodeID: node.ID, Timestamp: e.clock.Now()})
		}

		next, err := e.nextNode(def, node, out, allowed)
		if err != nil {
			return err
		}
		node = next
	}
	return nil
}

// executeWithRetry runs a node up to 1+MaxRetries attempts. Only failures
// with a retryable code re-run, and an executor can veto the retry by
// marking the output non-retryable; the pre-attempt delay follows the
// node's backoff policy and is interruptible by cancellation.
func (e *Engine) executeWithRetry(ctx context.Context, node *workflow.Node, ec *state.Context) (*workflow.NodeOutput, int) {
	exec, ok := e.executors.Get(node.Kind)
	if !ok {
		return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
			apperrors.CodeDefinition, "engine", "no executor for node kind %q", node.Kind)), 1
	}

	maxAttempts := 1
	if node.Retry != nil && node.Retry.MaxRetries > 0 {
		maxAttempts = 1 + node.Retry.MaxRetries
	}

	var out *workflow.NodeOutput
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.incRetry()
			delay := node.Retry.Delay(attempt)
			e.logger.Info("retrying node",
				"node_id", node.ID, "attempt", attempt, "delay", delay, "instance_id", ec.InstanceID)
			if delay > 0 {
				select {
				case <-e.clock.After(delay):
				case <-ctx.Done():
					return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
						apperrors.CodeCancelled, "engine", "cancelled while waiting to retry", ctx.Err())), attempt
				}
			}
		}

		out = e.runAttempt(ctx, node, ec, exec)
		if out.Success() {
			return out, attempt
		}
		if !apperrors.Retryable(out.ErrorCode) || out.NonRetryable || ctx.Err() != nil {
			return out, attempt
		}
	}
	return out, maxAttempts
}

// runAttempt executes one attempt under the node's per-attempt timeout. A
// failure caused by the attempt deadline (not an outer cancellation) is
// normalized to ERR_TIMEOUT so the retry policy treats it as retryable.
func (e *Engine) runAttempt(ctx context.Context, node *workflow.Node, ec *state.Context, exec executor.Executor) *workflow.NodeOutput {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if t := node.Timeout(); t > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, t)
	}
	defer cancel()

	out := exec.Execute(attemptCtx, node, ec)
	if !out.Success() && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		out.Error = fmt.Sprintf("attempt exceeded timeout of %s", node.Timeout())
		out.ErrorCode = apperrors.CodeTimeout
	}
	return out
}

// nextNode picks the successor. Conditional nodes follow the edge labelled
// with the evaluation result; other nodes follow their single outgoing
// edge. A node without a matching edge ends the walk.
func (e *Engine) nextNode(def *workflow.Definition, node *workflow.Node, out *workflow.NodeOutput, allowed map[string]bool) (*workflow.Node, error) {
	edges := def.OutgoingEdges(node.ID)
	if allowed != nil {
		kept := edges[:0:0]
		for _, edge := range edges {
			if allowed[edge.ToNodeID] {
				kept = append(kept, edge)
			}
		}
		edges = kept
	}
	if len(edges) == 0 {
		return nil, nil
	}

	if node.Kind == workflow.KindConditional {
		want := "false"
		if result, _ := out.Variables["conditionResult"].(bool); result {
			want = "true"
		}
		for _, edge := range edges {
			if edge.Label == want {
				return e.resolveNode(def, edge.ToNodeID)
			}
		}
		return nil, nil
	}

	if len(edges) > 1 {
		e.logger.Debug("multiple outgoing edges, following first",
			"node_id", node.ID, "edges", len(edges))
	}
	return e.resolveNode(def, edges[0].ToNodeID)
}

func (e *Engine) resolveNode(def *workflow.Definition, id string) (*workflow.Node, error) {
	next, ok := def.NodeByID(id)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeDefinition, "engine", "edge targets unknown node %q", id)
	}
	return next, nil
}

// RunSubgraph implements executor.SubgraphRunner: one loop-body pass over
// the nodes enumerated by the loop config, against the instance's active
// definition.
func (e *Engine) RunSubgraph(ctx context.Context, nodeIDs []string, ec *state.Context) error {
	def := ec.Definition
	if def == nil {
		return apperrors.New(apperrors.CodeInternal, "engine", "no active definition bound to context", nil)
	}

	allowed := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		allowed[id] = true
	}

	entry, err := e.subgraphEntry(def, allowed)
	if err != nil {
		return err
	}
	return e.walkFrom(ctx, def, ec, entry, allowed, true, nil)
}

// subgraphEntry finds the body node no other body node points at.
func (e *Engine) subgraphEntry(def *workflow.Definition, allowed map[string]bool) (*workflow.Node, error) {
	incoming := make(map[string]int, len(allowed))
	for _, edge := range def.Edges {
		if allowed[edge.FromNodeID] && allowed[edge.ToNodeID] {
			incoming[edge.ToNodeID]++
		}
	}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if allowed[n.ID] && incoming[n.ID] == 0 {
			return n, nil
		}
	}
	return nil, apperrors.New(apperrors.CodeDefinition, "engine", "loop body has no entry node", nil)
}

// RunWorkflow implements executor.WorkflowRunner: it drives a child
// definition to completion on the child context. The child's definition is
// bound for the duration so nested loops traverse the right graph.
func (e *Engine) RunWorkflow(ctx context.Context, def *workflow.Definition, ec *state.Context) error {
	if err := def.Validate(); err != nil {
		return err
	}
	entry, ok := def.EntryNode()
	if !ok {
		return apperrors.Newf(apperrors.CodeDefinition, "engine",
			"workflow %s has no unique entry node", def.ID)
	}

	prev := ec.Definition
	ec.Definition = def
	defer func() { ec.Definition = prev }()

	return e.walkFrom(ctx, def, ec, entry, nil, false, nil)
}
