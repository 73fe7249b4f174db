package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/flowstack/flowstack/pkg/ai"
	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/sandbox"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// AgentExecutor runs agent nodes: it substitutes the prompt templates,
// calls the configured prompt provider, extracts variables per the node's
// context config, and applies the optional gate condition.
//
// Prompts are always explicit on the node; a prompt-less agent node fails
// with ERR_MISSING_PROMPT rather than receiving an implicit prompt.
type AgentExecutor struct {
	providers *ai.Registry
	resolver  *state.Resolver
	sandbox   *sandbox.Sandbox
	clock     Clock
	logger    *slog.Logger
}

// NewAgentExecutor creates an agent executor.
func NewAgentExecutor(providers *ai.Registry, resolver *state.Resolver, sb *sandbox.Sandbox, clock Clock, logger *slog.Logger) *AgentExecutor {
	return &AgentExecutor{providers: providers, resolver: resolver, sandbox: sb, clock: clock, logger: logger}
}

func (e *AgentExecutor) Kind() string { return workflow.KindAgent }

func (e *AgentExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.AgentConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if cfg.Prompt == "" {
		return workflow.NewFailure(node, now, apperrors.Newf(
			apperrors.CodeMissingPrompt, "executor", "agent node %s declares no prompt", node.ID))
	}

	prompt := e.resolver.Substitute(cfg.Prompt, ec)
	systemPrompt := cfg.SystemPrompt
	if systemPrompt != "" {
		systemPrompt = e.resolver.Substitute(systemPrompt, ec)
	} else {
		agent := cfg.Agent
		if agent == "" {
			agent = node.DisplayName()
		}
		systemPrompt = fmt.Sprintf("You are %s, an AI assistant.", agent)
	}

	provider, err := e.providers.Get(cfg.Provider)
	if err != nil {
		return workflow.NewFailure(node, now, err)
	}

	e.logger.Debug("executing prompt", "node_id", node.ID, "provider", cfg.Provider)
	result, err := provider.ExecutePrompt(ctx, prompt, systemPrompt)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}
	if !result.Success {
		return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
			apperrors.CodeProvider, "executor", "provider reported failure: %s", result.Error))
	}

	parsed := tryParseJSON(result.Output)

	variables, err := e.extractVariables(ctx, node, ec, result.Output, parsed)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	if cfg.Gate && cfg.GateCondition != "" {
		pass, gateErr := e.evaluateGate(cfg.GateCondition, ec, variables, parsed)
		if gateErr != nil {
			return workflow.NewFailure(node, e.clock.Now(), gateErr)
		}
		if !pass {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
				apperrors.CodeGate, "executor", "Gate condition not met", nil))
		}
	}

	output := map[string]any{
		"response": result.Output,
	}
	if parsed != nil {
		output["parsed"] = parsed
	}

	out := workflow.NewSuccess(node, e.clock.Now(), output, variables)
	if result.Usage != nil {
		out.Metadata = map[string]any{"usage": result.Usage}
	}
	return out
}

// extractVariables applies the node's context config to the provider
// response. Simple mode stores the full output as "output" and
// "<nodeName>_output" plus the parsed JSON form when available; advanced
// mode evaluates each declared output mapping with its optional transform.
func (e *AgentExecutor) extractVariables(ctx context.Context, node *workflow.Node, ec *state.Context, output string, parsed any) (map[string]any, error) {
	ctxCfg := node.Context

	if ctxCfg.EffectiveMode() == workflow.ContextModeSimple {
		variables := map[string]any{
			"output": output,
			node.DisplayName() + "_output": output,
		}
		if parsed != nil {
			variables["parsed"] = parsed
		}
		return variables, nil
	}

	// Advanced mode: mapping sources see the response under "output" and
	// "parsed" alongside the instance variables.
	doc := copyVariables(ec.Variables)
	doc["output"] = output
	if parsed != nil {
		doc["parsed"] = parsed
	}

	variables := make(map[string]any, len(ctxCfg.Outputs))
	for _, mapping := range ctxCfg.Outputs {
		value := evaluateMappingIn(e.resolver, mapping.Source, doc, ec)
		if mapping.Transform != "" {
			env := map[string]any{"value": value, "context": doc}
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

// evaluateGate checks the gate condition against the merged view of the
// instance variables, the extracted variables, and the parsed response's
// top-level fields.
func (e *AgentExecutor) evaluateGate(condition string, ec *state.Context, variables map[string]any, parsed any) (bool, error) {
	doc := copyVariables(ec.Variables)
	for k, v := range variables {
		doc[k] = v
	}
	if m, ok := parsed.(map[string]any); ok {
		for k, v := range m {
			doc[k] = v
		}
	}
	return e.resolver.EvaluateConditionIn(condition, doc)
}

// evaluateMappingIn resolves a mapping source against an explicit document
// with fallback to the instance context for {{name}} placeholders.
func evaluateMappingIn(r *state.Resolver, source string, doc map[string]any, ec *state.Context) any {
	trimmed := source
	if len(trimmed) > 1 && (trimmed[0] == '$') {
		return state.JSONPathLookup(trimmed, doc)
	}
	return r.EvaluateMapping(source, ec)
}

// tryParseJSON decodes the output as JSON, returning nil when the output
// is not structured.
func tryParseJSON(output string) any {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return nil
	}
	switch parsed.(type) {
	case map[string]any, []any:
		return parsed
	default:
		return nil
	}
}
