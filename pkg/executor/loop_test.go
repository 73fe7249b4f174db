package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

func loopNode(t *testing.T, cfg workflow.LoopConfig) *workflow.Node {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &workflow.Node{ID: "loop-node", Kind: workflow.KindLoop, Config: raw}
}

// scriptedRunner records each body pass and lets the test mutate the
// context per iteration.
type scriptedRunner struct {
	runs   int
	onRun  func(run int, ec *state.Context) error
	frames []state.LoopFrame
}

func (r *scriptedRunner) RunSubgraph(ctx context.Context, nodeIDs []string, ec *state.Context) error {
	r.runs++
	if frame, ok := ec.CurrentLoop(); ok {
		r.frames = append(r.frames, *frame)
	}
	if r.onRun != nil {
		return r.onRun(r.runs, ec)
	}
	return nil
}

func newLoopTestExecutor(runner SubgraphRunner) *LoopExecutor {
	log := testLogger()
	return NewLoopExecutor(state.NewResolver(log), runner, RealClock{}, log)
}

func TestLoopForEach(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", map[string]any{
		"items": []any{"a", "b", "c"},
	}, time.Now())

	var seen []any
	runner.onRun = func(run int, ec *state.Context) error {
		seen = append(seen, ec.Variables["item"])
		return nil
	}

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:         workflow.LoopTypeForEach,
		Collection:       "{{items}}",
		IteratorVariable: "item",
		IndexVariable:    "idx",
		LoopNodes:        []string{"body"},
	}), ec)
	require.True(t, out.Success(), out.Error)

	assert.Equal(t, 3, runner.runs)
	assert.Equal(t, []any{"a", "b", "c"}, seen)
	assert.Equal(t, 3, out.Variables["iterationCount"])
	assert.Equal(t, true, out.Variables["completed"])
	assert.Equal(t, 2, ec.Variables["idx"], "index variable left at last iteration")
	assert.Empty(t, ec.LoopStack, "loop frames popped")

	iterations := out.Output["iterations"].([]map[string]any)
	require.Len(t, iterations, 3)
	assert.Equal(t, 0, iterations[0]["index"])
	vars := iterations[1]["variables"].(map[string]any)
	assert.Equal(t, "b", vars["item"])
}

func TestLoopForEachNonCollection(t *testing.T) {
	exec := newLoopTestExecutor(&scriptedRunner{})
	ec := state.New("wf", "", map[string]any{"items": "not a list"}, time.Now())

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:   workflow.LoopTypeForEach,
		Collection: "{{items}}",
		LoopNodes:  []string{"body"},
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeEval, out.ErrorCode)
}

func TestLoopCount(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:         workflow.LoopTypeCount,
		Count:            4,
		IteratorVariable: "i",
		LoopNodes:        []string{"body"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, 4, runner.runs)
	assert.Equal(t, 3, ec.Variables["i"])

	require.Len(t, runner.frames, 4)
	assert.Equal(t, 4, runner.frames[0].TotalItems)
	assert.Equal(t, 2, runner.frames[2].CurrentIndex)
}

func TestLoopCountZero(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:  workflow.LoopTypeCount,
		Count:     0,
		LoopNodes: []string{"body"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, 0, runner.runs, "zero-count loop never runs the body")
	assert.Equal(t, 0, out.Variables["iterationCount"])
	assert.Equal(t, true, out.Variables["completed"])
}

func TestLoopWhile(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", map[string]any{"counter": float64(0)}, time.Now())

	runner.onRun = func(run int, ec *state.Context) error {
		ec.SetVariable("counter", float64(run))
		return nil
	}

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:       workflow.LoopTypeWhile,
		WhileCondition: "$.counter < 3",
		LoopNodes:      []string{"body"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, 3, runner.runs)
	assert.Equal(t, true, out.Variables["completed"])

	require.NotEmpty(t, runner.frames)
	assert.Equal(t, -1, runner.frames[0].TotalItems, "while loops have no known total")
}

func TestLoopWhileHitsIterationCap(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:       workflow.LoopTypeWhile,
		WhileCondition: "1 == 1",
		MaxIterations:  5,
		LoopNodes:      []string{"body"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, 5, runner.runs)
	assert.Equal(t, false, out.Variables["completed"])
}

func TestLoopIterationFailureFailsLoop(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", nil, time.Now())

	runner.onRun = func(run int, ec *state.Context) error {
		if run == 2 {
			return apperrors.New(apperrors.CodeHTTP, "engine", "body blew up", errors.New("boom"))
		}
		return nil
	}

	out := exec.Execute(context.Background(), loopNode(t, workflow.LoopConfig{
		LoopType:  workflow.LoopTypeCount,
		Count:     5,
		LoopNodes: []string{"body"},
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeHTTP, out.ErrorCode)
	assert.Contains(t, out.Error, "iteration 1 failed")
	assert.Equal(t, 2, runner.runs)
	assert.Empty(t, ec.LoopStack)
}

func TestLoopCancellation(t *testing.T) {
	runner := &scriptedRunner{}
	exec := newLoopTestExecutor(runner)
	ec := state.New("wf", "", nil, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	runner.onRun = func(run int, ec *state.Context) error {
		if run == 2 {
			cancel()
		}
		return nil
	}

	out := exec.Execute(ctx, loopNode(t, workflow.LoopConfig{
		LoopType:  workflow.LoopTypeCount,
		Count:     100,
		LoopNodes: []string{"body"},
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeCancelled, out.ErrorCode)
	assert.Equal(t, 2, runner.runs)
}

func TestLoopRejectsBadConfig(t *testing.T) {
	exec := newLoopTestExecutor(&scriptedRunner{})
	ec := state.New("wf", "", nil, time.Now())

	tests := []struct {
		name string
		cfg  workflow.LoopConfig
	}{
		{"no body", workflow.LoopConfig{LoopType: workflow.LoopTypeCount, Count: 1}},
		{"unknown type", workflow.LoopConfig{LoopType: "until", LoopNodes: []string{"b"}}},
		{"negative count", workflow.LoopConfig{LoopType: workflow.LoopTypeCount, Count: -1, LoopNodes: []string{"b"}}},
		{"while without condition", workflow.LoopConfig{LoopType: workflow.LoopTypeWhile, LoopNodes: []string{"b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := exec.Execute(context.Background(), loopNode(t, tt.cfg), ec)
			require.False(t, out.Success())
			assert.Equal(t, apperrors.CodeDefinition, out.ErrorCode)
		})
	}
}
