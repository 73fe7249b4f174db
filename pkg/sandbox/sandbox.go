// Package sandbox executes user-supplied expressions and code bodies under
// explicit bounds: a CPU deadline, a memory cap for process-isolated code,
// no host filesystem/network/process access, and a pre-exec denylist as a
// defense-in-depth layer on top of the interpreter boundary.
//
// Expressions (mapping transforms, javascript-typed conditionals, and
// javascript code bodies) run on the expr VM, which has no host access by
// construction. Python code bodies run in a child process with resource
// limits and a SIGINT-then-SIGKILL escalation on deadline.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// DefaultCPUTimeout bounds an expression or code body when the node's
// sandbox config does not override it.
const DefaultCPUTimeout = 5 * time.Second

// DefaultMemoryLimitMb caps the python child process address space.
const DefaultMemoryLimitMb = 256

// forbiddenPatterns rejects payloads before evaluation. The interpreter
// boundary is the actual security line; this list catches obvious escapes
// early with a clearer error.
var forbiddenPatterns = []string{
	"eval(",
	"Function(",
	"new Function",
	"child_process",
	"require('fs'",
	`require("fs")`,
	"process.exit",
	"import os",
	"from os import",
	"subprocess",
	"__import__",
	"exec(",
	"importlib",
}

// Result carries the outcome of a code-node execution.
type Result struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ReturnValue any    `json:"returnValue"`
}

// Sandbox executes user expressions and code bodies.
type Sandbox struct {
	logger    *slog.Logger
	pythonBin string
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithPythonBinary overrides the python interpreter used for python code nodes.
func WithPythonBinary(bin string) Option {
	return func(s *Sandbox) { s.pythonBin = bin }
}

// New creates a sandbox.
func New(logger *slog.Logger, opts ...Option) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sandbox{logger: logger, pythonBin: "python3"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSource runs the denylist over a payload. Skipped when the node's
// sandbox config disables sandboxing.
func (s *Sandbox) CheckSource(source string) error {
	for _, pattern := range forbiddenPatterns {
		if strings.Contains(source, pattern) {
			return apperrors.Newf(apperrors.CodeUnsafeCode, "sandbox",
				"forbidden pattern %q in payload", pattern)
		}
	}
	return nil
}

// EvalExpression evaluates an expr-language expression with the given
// environment under the configured deadline. Used for mapping transforms
// and javascript-typed conditionals.
func (s *Sandbox) EvalExpression(ctx context.Context, source string, env map[string]any, cfg *workflow.SandboxConfig) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.New(apperrors.CodeCancelled, "sandbox", "evaluation cancelled", err)
	}
	if cfg.IsEnabled() {
		if err := s.CheckSource(source); err != nil {
			return nil, err
		}
	} else {
		s.logger.Warn("sandbox disabled for expression; denylist and capability gates skipped")
	}

	deadline := cpuTimeout(cfg)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// The deadline context rides along in the environment under a reserved
	// name; expr.WithContext makes the VM observe it, so a runaway
	// expression stops instead of burning CPU past the deadline.
	runEnv := make(map[string]any, len(env)+1)
	for k, v := range env {
		runEnv[k] = v
	}
	runEnv[exprCtxKey] = runCtx

	program, err := expr.Compile(source,
		expr.Env(runEnv), expr.AllowUndefinedVariables(), expr.WithContext(exprCtxKey))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeEval, "sandbox", "compile failed", err)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, runErr := expr.Run(program, runEnv)
		done <- outcome{value, runErr}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, apperrors.New(apperrors.CodeCancelled, "sandbox", "evaluation cancelled", ctx.Err())
		}
		return nil, apperrors.Newf(apperrors.CodeTimeout, "sandbox",
			"expression exceeded CPU deadline of %s", deadline)
	case out := <-done:
		if out.err != nil {
			if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, apperrors.Newf(apperrors.CodeTimeout, "sandbox",
					"expression exceeded CPU deadline of %s", deadline)
			}
			return nil, apperrors.New(apperrors.CodeEval, "sandbox", "evaluation failed", out.err)
		}
		return out.value, nil
	}
}

// exprCtxKey is the reserved environment name carrying the deadline
// context into the expr VM.
const exprCtxKey = "__sandbox_ctx"

// RunCode executes a code-node body. Variables are exposed under the fixed
// name "context". Javascript runs on the expr VM with a print() capture;
// python runs process-isolated.
func (s *Sandbox) RunCode(ctx context.Context, language, code string, variables map[string]any, cfg *workflow.SandboxConfig) (*Result, error) {
	if cfg.IsEnabled() {
		if err := s.CheckSource(code); err != nil {
			return nil, err
		}
	} else {
		s.logger.Warn("sandbox disabled for code node; denylist and capability gates skipped",
			"language", language)
	}

	switch language {
	case workflow.LanguageJavaScript:
		return s.runExprCode(ctx, code, variables, cfg)
	case workflow.LanguagePython:
		return s.runPython(ctx, code, variables, cfg)
	default:
		return nil, apperrors.Newf(apperrors.CodeDefinition, "sandbox", "unsupported language %q", language)
	}
}

// runExprCode evaluates a javascript code body on the expr VM. print()
// writes to the captured stdout; the expression's value is the return value.
func (s *Sandbox) runExprCode(ctx context.Context, code string, variables map[string]any, cfg *workflow.SandboxConfig) (*Result, error) {
	var stdout strings.Builder
	env := map[string]any{
		"context": variables,
		"print": func(args ...any) bool {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprintf("%v", a)
			}
			stdout.WriteString(strings.Join(parts, " "))
			stdout.WriteString("\n")
			return true
		},
	}
	for k, v := range variables {
		if _, reserved := env[k]; !reserved {
			env[k] = v
		}
	}

	value, err := s.EvalExpression(ctx, code, env, cfg)
	if err != nil {
		return nil, err
	}
	return &Result{Stdout: stdout.String(), ReturnValue: value}, nil
}

func cpuTimeout(cfg *workflow.SandboxConfig) time.Duration {
	if cfg != nil && cfg.CPUTimeoutMs > 0 {
		return time.Duration(cfg.CPUTimeoutMs) * time.Millisecond
	}
	return DefaultCPUTimeout
}

func memoryLimitMb(cfg *workflow.SandboxConfig) int {
	if cfg != nil && cfg.MemoryLimitMb > 0 {
		return cfg.MemoryLimitMb
	}
	return DefaultMemoryLimitMb
}
