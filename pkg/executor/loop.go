package executor

import (
	"context"
	"log/slog"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// Loop bounds. DefaultMaxIterations applies when the node declares none;
// HardMaxIterations caps whatever the node declares.
const (
	DefaultMaxLoopNesting = 16
	DefaultMaxIterations  = 1000
	HardMaxIterations     = 1000
)

// LoopExecutor drives forEach, while and count loops over a body subgraph.
// Each iteration pushes a loop frame, binds the iterator variables, runs
// the body through the SubgraphRunner and records the variable bag for
// aggregation. A failed iteration fails the loop node.
type LoopExecutor struct {
	resolver   *state.Resolver
	runner     SubgraphRunner
	clock      Clock
	logger     *slog.Logger
	maxNesting int
}

// NewLoopExecutor creates a loop executor.
func NewLoopExecutor(resolver *state.Resolver, runner SubgraphRunner, clock Clock, logger *slog.Logger) *LoopExecutor {
	return &LoopExecutor{
		resolver:   resolver,
		runner:     runner,
		clock:      clock,
		logger:     logger,
		maxNesting: DefaultMaxLoopNesting,
	}
}

func (e *LoopExecutor) Kind() string { return workflow.KindLoop }

func (e *LoopExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.LoopConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if len(cfg.LoopNodes) == 0 {
		return workflow.NewFailure(node, now, apperrors.Newf(
			apperrors.CodeDefinition, "executor", "loop node %s declares no body nodes", node.ID))
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter > HardMaxIterations {
		maxIter = HardMaxIterations
	}

	var collection []any
	totalItems := -1
	switch cfg.LoopType {
	case workflow.LoopTypeForEach:
		value := e.resolver.EvaluateMapping(cfg.Collection, ec)
		items, ok := asCollection(value)
		if !ok {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
				apperrors.CodeEval, "executor",
				"collection %q did not resolve to a list", cfg.Collection))
		}
		collection = items
		totalItems = len(items)
		if totalItems < maxIter {
			maxIter = totalItems
		}
	case workflow.LoopTypeCount:
		// A zero count is a valid empty loop, mirroring forEach over an
		// empty collection.
		if cfg.Count < 0 {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
				apperrors.CodeDefinition, "executor", "count loop %s needs a non-negative count", node.ID))
		}
		totalItems = cfg.Count
		if totalItems < maxIter {
			maxIter = totalItems
		}
	case workflow.LoopTypeWhile:
		if cfg.WhileCondition == "" {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
				apperrors.CodeDefinition, "executor", "while loop %s needs a condition", node.ID))
		}
	default:
		return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
			apperrors.CodeDefinition, "executor", "unknown loop type %q", cfg.LoopType))
	}

	iterations := make([]map[string]any, 0, 8)
	completed := true

	for index := 0; index < maxIter; index++ {
		if err := ctx.Err(); err != nil {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
				apperrors.CodeCancelled, "executor", "loop cancelled", err))
		}

		if cfg.LoopType == workflow.LoopTypeWhile {
			ok, err := e.resolver.EvaluateCondition(cfg.WhileCondition, ec)
			if err != nil {
				return workflow.NewFailure(node, e.clock.Now(), err)
			}
			if !ok {
				break
			}
		}

		frame := state.LoopFrame{
			LoopNodeID:       node.ID,
			IteratorVariable: cfg.IteratorVariable,
			IndexVariable:    cfg.IndexVariable,
			CurrentIndex:     index,
			TotalItems:       totalItems,
			CollectionData:   collection,
		}
		if err := ec.PushLoop(frame, e.maxNesting); err != nil {
			return workflow.NewFailure(node, e.clock.Now(), err)
		}

		e.bindIterationVariables(&cfg, ec, collection, index)

		err := e.runner.RunSubgraph(ctx, cfg.LoopNodes, ec)
		iterations = append(iterations, map[string]any{
			"index":     index,
			"variables": copyVariables(ec.Variables),
		})
		ec.PopLoop()

		if err != nil {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
				apperrors.CodeOf(err), "executor",
				"iteration %d failed: %v", index, err))
		}
	}

	// A while loop that hits the iteration cap with its condition still
	// true did not run to completion.
	if cfg.LoopType == workflow.LoopTypeWhile && len(iterations) == maxIter {
		still, err := e.resolver.EvaluateCondition(cfg.WhileCondition, ec)
		if err == nil && still {
			completed = false
			e.logger.Warn("while loop stopped at iteration cap",
				"node_id", node.ID, "max_iterations", maxIter)
		}
	}

	output := map[string]any{
		"iterations":     iterations,
		"iterationCount": len(iterations),
		"completed":      completed,
	}
	variables := map[string]any{
		"iterations":     iterations,
		"iterationCount": len(iterations),
		"completed":      completed,
	}
	return workflow.NewSuccess(node, e.clock.Now(), output, variables)
}

// bindIterationVariables sets the iterator (and optional index) variables
// for the next body run. Last-write-wins on the shared variable bag.
func (e *LoopExecutor) bindIterationVariables(cfg *workflow.LoopConfig, ec *state.Context, collection []any, index int) {
	switch cfg.LoopType {
	case workflow.LoopTypeForEach:
		if cfg.IteratorVariable != "" {
			ec.SetVariable(cfg.IteratorVariable, collection[index])
		}
	case workflow.LoopTypeCount, workflow.LoopTypeWhile:
		if cfg.IteratorVariable != "" {
			ec.SetVariable(cfg.IteratorVariable, index)
		}
	}
	if cfg.IndexVariable != "" {
		ec.SetVariable(cfg.IndexVariable, index)
	}
}

// asCollection coerces a resolved value into an iterable slice.
func asCollection(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}
