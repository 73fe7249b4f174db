package executor

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/sandbox"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/store"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// DefaultSubWorkflowTimeout bounds a child run when the node declares no
// timeout of its own.
const DefaultSubWorkflowTimeout = 5 * time.Minute

// SubWorkflowExecutor runs a named child workflow in an isolated context.
// Simple context mode copies the parent variables in and exposes the
// child's final variable bag as "output"; advanced mode maps inputs and
// outputs explicitly.
type SubWorkflowExecutor struct {
	loader   store.Loader
	runner   WorkflowRunner
	resolver *state.Resolver
	sandbox  *sandbox.Sandbox
	clock    Clock
	logger   *slog.Logger
}

// NewSubWorkflowExecutor creates a subworkflow executor.
func NewSubWorkflowExecutor(loader store.Loader, runner WorkflowRunner, resolver *state.Resolver, sb *sandbox.Sandbox, clock Clock, logger *slog.Logger) *SubWorkflowExecutor {
	return &SubWorkflowExecutor{
		loader:   loader,
		runner:   runner,
		resolver: resolver,
		sandbox:  sb,
		clock:    clock,
		logger:   logger,
	}
}

func (e *SubWorkflowExecutor) Kind() string { return workflow.KindSubWorkflow }

func (e *SubWorkflowExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.SubWorkflowConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if cfg.SubWorkflowID == "" {
		return workflow.NewFailure(node, now, apperrors.Newf(
			apperrors.CodeDefinition, "executor", "subworkflow node %s declares no subWorkflowId", node.ID))
	}

	version := cfg.SubWorkflowVersion
	if version == "" {
		version = store.VersionLatest
	}
	def, err := e.loader.LoadWorkflow(ctx, cfg.SubWorkflowID, version)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	child := ec.ChildForSubWorkflow(node.ID, def.ID, now)
	mode := cfg.Context.EffectiveMode()

	if mode == workflow.ContextModeSimple {
		for k, v := range ec.Variables {
			child.Variables[k] = v
		}
		child.Variables["_parentOutputs"] = ec.PreviousOutputs
	} else {
		for _, mapping := range cfg.Context.Inputs {
			child.Variables[mapping.Target] = e.resolver.EvaluateMapping(mapping.Source, ec)
		}
	}

	timeout := node.Timeout()
	if timeout <= 0 {
		timeout = DefaultSubWorkflowTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Info("starting subworkflow",
		"node_id", node.ID, "child_workflow_id", def.ID, "child_instance_id", child.InstanceID)

	if err := e.runner.RunWorkflow(runCtx, def, child); err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
				apperrors.CodeTimeout, "executor",
				"subworkflow %s exceeded %s", def.ID, timeout))
		}
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	variables, err := e.extractOutputs(ctx, &cfg, child)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	output := map[string]any{
		"childInstanceId": child.InstanceID,
		"childWorkflowId": def.ID,
		"output":          child.Variables,
	}
	return workflow.NewSuccess(node, e.clock.Now(), output, variables)
}

// extractOutputs maps the child's final variables back into the parent.
// Output mappings see the child's variable bag only; the child's node
// outputs do not leak upward.
func (e *SubWorkflowExecutor) extractOutputs(ctx context.Context, cfg *workflow.SubWorkflowConfig, child *state.Context) (map[string]any, error) {
	if cfg.Context.EffectiveMode() == workflow.ContextModeSimple {
		return map[string]any{"output": child.Variables}, nil
	}

	variables := make(map[string]any, len(cfg.Context.Outputs))
	for _, mapping := range cfg.Context.Outputs {
		value := resolveAgainst(mapping.Source, child.Variables)
		if mapping.Transform != "" {
			env := map[string]any{"value": value, "context": child.Variables}
			transformed, err := e.sandbox.EvalExpression(ctx, mapping.Transform, env, nil)
			if err != nil {
				return nil, err
			}
			value = transformed
		}
		variables[mapping.Target] = value
	}
	return variables, nil
}

var subwfPlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// resolveAgainst resolves a mapping source against an explicit variable
// bag: {{name}} reads a key, $.path evaluates JSONPath, anything else is a
// literal.
func resolveAgainst(source string, vars map[string]any) any {
	trimmed := source
	if m := subwfPlaceholder.FindStringSubmatch(trimmed); m != nil && subwfPlaceholder.FindString(trimmed) == trimmed {
		return vars[m[1]]
	}
	if len(trimmed) > 1 && trimmed[0] == '$' {
		return state.JSONPathLookup(trimmed, vars)
	}
	return source
}
