package executor

import (
	"context"
	"log/slog"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/sandbox"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// ConditionalExecutor evaluates a branch condition. The engine routes on
// the "conditionResult" variable via the node's true/false labelled edges.
// Evaluation errors fail the node once; conditions are not retried.
type ConditionalExecutor struct {
	resolver *state.Resolver
	sandbox  *sandbox.Sandbox
	clock    Clock
	logger   *slog.Logger
}

// NewConditionalExecutor creates a conditional executor.
func NewConditionalExecutor(resolver *state.Resolver, sb *sandbox.Sandbox, clock Clock, logger *slog.Logger) *ConditionalExecutor {
	return &ConditionalExecutor{resolver: resolver, sandbox: sb, clock: clock, logger: logger}
}

func (e *ConditionalExecutor) Kind() string { return workflow.KindConditional }

func (e *ConditionalExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.ConditionalConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if cfg.ConditionType == "" {
		cfg.ConditionType = workflow.ConditionTypeJSONPath
	}

	var result bool
	var err error
	switch cfg.ConditionType {
	case workflow.ConditionTypeJSONPath:
		result, err = e.resolver.EvaluateCondition(cfg.Condition, ec)
	case workflow.ConditionTypeJavaScript:
		env := copyVariables(ec.Variables)
		env["context"] = ec.Variables
		var value any
		value, err = e.sandbox.EvalExpression(ctx, cfg.Condition, env, nil)
		result = truthy(value)
	default:
		err = apperrors.Newf(apperrors.CodeDefinition, "executor",
			"unknown condition type %q", cfg.ConditionType)
	}
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	e.logger.Debug("condition evaluated",
		"node_id", node.ID, "condition", cfg.Condition, "result", result)

	output := map[string]any{
		"conditionResult": result,
		"condition":       cfg.Condition,
		"conditionType":   cfg.ConditionType,
	}
	variables := map[string]any{"conditionResult": result}
	return workflow.NewSuccess(node, e.clock.Now(), output, variables)
}
