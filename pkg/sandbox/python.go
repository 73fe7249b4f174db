package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// resultMarker separates user stdout from the harness result line.
const resultMarker = "__FLOWSTACK_RESULT__"

// pythonHarness wraps the user code: reads variables from stdin, applies
// the memory limit and import allow-list, executes the body, and emits the
// value of a `result` variable (if assigned) on a marker line.
const pythonHarness = `
import json, sys

def _limit_memory(mb):
    try:
        import resource
        limit = mb * 1024 * 1024
        resource.setrlimit(resource.RLIMIT_AS, (limit, limit))
    except Exception:
        pass

def _restrict_imports(allowed):
    import builtins
    real_import = builtins.__import__
    def guarded(name, *args, **kwargs):
        root = name.split('.')[0]
        if root not in allowed:
            raise ImportError('module %r is not allowed' % root)
        return real_import(name, *args, **kwargs)
    builtins.__import__ = guarded

_payload = json.load(sys.stdin)
_limit_memory(_payload['memoryLimitMb'])
if _payload['sandboxed']:
    _restrict_imports(set(_payload['allowedModules']))

_globals = {'context': _payload['variables'], '__name__': '__main__'}
exec(compile(_payload['code'], '<workflow>', 'exec'), _globals)

_result = _globals.get('result')
try:
    _encoded = json.dumps(_result)
except (TypeError, ValueError):
    _encoded = json.dumps(str(_result))
sys.stdout.write('\n' + '@@MARKER@@' + _encoded + '\n')
`

// defaultAllowedModules are importable without an explicit allow-list entry.
var defaultAllowedModules = []string{"json", "math", "re", "datetime", "random", "string", "collections", "itertools", "functools"}

type pythonPayload struct {
	Code           string         `json:"code"`
	Variables      map[string]any `json:"variables"`
	MemoryLimitMb  int            `json:"memoryLimitMb"`
	AllowedModules []string       `json:"allowedModules"`
	Sandboxed      bool           `json:"sandboxed"`
}

// runPython executes a python code body in a child process. On deadline or
// cancellation the process receives SIGINT, then SIGKILL one second later.
func (s *Sandbox) runPython(ctx context.Context, code string, variables map[string]any, cfg *workflow.SandboxConfig) (*Result, error) {
	deadline := cpuTimeout(cfg)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	allowed := append([]string(nil), defaultAllowedModules...)
	if cfg != nil {
		allowed = append(allowed, cfg.AllowedModules...)
	}
	payload, err := json.Marshal(pythonPayload{
		Code:           code,
		Variables:      variables,
		MemoryLimitMb:  memoryLimitMb(cfg),
		AllowedModules: allowed,
		Sandboxed:      cfg.IsEnabled(),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInternal, "sandbox", "payload encoding failed", err)
	}

	harness := strings.ReplaceAll(pythonHarness, "@@MARKER@@", resultMarker)
	cmd := exec.CommandContext(runCtx, s.pythonBin, "-c", harness)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Polite signal first; the harness gets one second to unwind before
	// the runtime sends SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, apperrors.New(apperrors.CodeCancelled, "sandbox", "python execution cancelled", ctx.Err())
		}
		return nil, apperrors.Newf(apperrors.CodeTimeout, "sandbox",
			"python code exceeded CPU deadline of %s", deadline)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return nil, apperrors.Newf(apperrors.CodeEval, "sandbox", "python execution failed: %s", msg)
		}
		return nil, apperrors.New(apperrors.CodeEval, "sandbox", "python interpreter not available", err)
	}

	userOut, returnValue := splitResult(stdout.String())
	return &Result{
		Stdout:      userOut,
		Stderr:      stderr.String(),
		ReturnValue: returnValue,
	}, nil
}

// splitResult strips the harness marker line from captured stdout and
// decodes the return value it carries.
func splitResult(combined string) (string, any) {
	idx := strings.LastIndex(combined, resultMarker)
	if idx < 0 {
		return combined, nil
	}
	userOut := strings.TrimSuffix(combined[:idx], "\n")
	encoded := strings.TrimSpace(combined[idx+len(resultMarker):])

	var value any
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return userOut, nil
	}
	return userOut, value
}
