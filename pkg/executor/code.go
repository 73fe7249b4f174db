package executor

import (
	"context"
	"log/slog"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/sandbox"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// CodeExecutor runs a code-node body in the sandbox. The instance
// variables are exposed read-only under the fixed name "context"; the
// body communicates back through its return value only.
type CodeExecutor struct {
	sandbox *sandbox.Sandbox
	clock   Clock
	logger  *slog.Logger
}

// NewCodeExecutor creates a code executor.
func NewCodeExecutor(sb *sandbox.Sandbox, clock Clock, logger *slog.Logger) *CodeExecutor {
	return &CodeExecutor{sandbox: sb, clock: clock, logger: logger}
}

func (e *CodeExecutor) Kind() string { return workflow.KindCode }

func (e *CodeExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.CodeConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if cfg.Code == "" {
		return workflow.NewFailure(node, now, apperrors.Newf(
			apperrors.CodeDefinition, "executor", "code node %s has an empty body", node.ID))
	}

	result, err := e.sandbox.RunCode(ctx, cfg.Language, cfg.Code, copyVariables(ec.Variables), cfg.Sandbox)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	output := map[string]any{
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"returnValue": result.ReturnValue,
	}
	variables := map[string]any{"returnValue": result.ReturnValue}
	return workflow.NewSuccess(node, e.clock.Now(), output, variables)
}
