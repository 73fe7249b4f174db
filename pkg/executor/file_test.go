package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

func fileNode(t *testing.T, cfg workflow.FileConfig) *workflow.Node {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &workflow.Node{ID: "file-node", Kind: workflow.KindFile, Config: raw}
}

func newFileTestExecutor() *FileExecutor {
	return NewFileExecutor(state.NewResolver(nil), RealClock{}, testLogger())
}

func TestFileWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	exec := newFileTestExecutor()
	ec := state.New("wf", dir, map[string]any{"greeting": "hello"}, time.Now())

	out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation:  workflow.FileOpWrite,
		TargetPath: "notes/greeting.txt",
		Content:    "{{greeting}} world",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, false, out.Output["renamed"])
	assert.Equal(t, true, out.Output["success"])
	assert.Equal(t, workflow.FileOpWrite, out.Output["operation"])
	assert.Equal(t, len("hello world"), out.Output["bytesWritten"])

	out = exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation:  workflow.FileOpRead,
		SourcePath: "notes/greeting.txt",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, "hello world", out.Output["fileContent"])
	assert.Equal(t, true, out.Output["success"])
	assert.Equal(t, workflow.FileOpRead, out.Output["operation"])
}

func TestFileWriteAutoIncrement(t *testing.T) {
	dir := t.TempDir()
	exec := newFileTestExecutor()
	ec := state.New("wf", dir, nil, time.Now())

	cfg := workflow.FileConfig{
		Operation:  workflow.FileOpWrite,
		TargetPath: "report.txt",
		Content:    "v1",
	}
	out := exec.Execute(context.Background(), fileNode(t, cfg), ec)
	require.True(t, out.Success(), out.Error)

	cfg.Content = "v2"
	out = exec.Execute(context.Background(), fileNode(t, cfg), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, true, out.Output["renamed"])
	assert.Equal(t, filepath.Join(dir, "report-1.txt"), out.Output["path"])

	data, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data), "original untouched without overwrite")
}

func TestFileWriteOverwrite(t *testing.T) {
	dir := t.TempDir()
	exec := newFileTestExecutor()
	ec := state.New("wf", dir, nil, time.Now())

	for _, content := range []string{"v1", "v2"} {
		out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
			Operation:  workflow.FileOpWrite,
			TargetPath: "report.txt",
			Content:    content,
			Overwrite:  true,
		}), ec)
		require.True(t, out.Success(), out.Error)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestFileTraversalBlocked(t *testing.T) {
	dir := t.TempDir()
	exec := newFileTestExecutor()
	ec := state.New("wf", dir, nil, time.Now())

	out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation:            workflow.FileOpRead,
		SourcePath:           "../outside.txt",
		RequireProjectFolder: true,
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeAccessDenied, out.ErrorCode)
	assert.Contains(t, out.Error, "outside project folder")
}

func TestFileReadMissing(t *testing.T) {
	exec := newFileTestExecutor()
	ec := state.New("wf", t.TempDir(), nil, time.Now())

	out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation:  workflow.FileOpRead,
		SourcePath: "nope.txt",
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeNotFound, out.ErrorCode)
}

func TestFileCopyMoveDelete(t *testing.T) {
	dir := t.TempDir()
	exec := newFileTestExecutor()
	ec := state.New("wf", dir, nil, time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("data"), 0o644))

	out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation: workflow.FileOpCopy, SourcePath: "a.txt", TargetPath: "b.txt",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, filepath.Join(dir, "a.txt"), out.Output["sourcePath"])
	assert.Equal(t, filepath.Join(dir, "b.txt"), out.Output["targetPath"])
	assert.Equal(t, len("data"), out.Output["bytesWritten"])

	out = exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation: workflow.FileOpMove, SourcePath: "b.txt", TargetPath: "sub/c.txt",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, filepath.Join(dir, "sub/c.txt"), out.Output["targetPath"])
	_, err := os.Stat(filepath.Join(dir, "b.txt"))
	assert.True(t, os.IsNotExist(err))

	out = exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation: workflow.FileOpDelete, SourcePath: "sub/c.txt",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, true, out.Output["existed"])

	out = exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation: workflow.FileOpDelete, SourcePath: "sub/c.txt",
	}), ec)
	require.True(t, out.Success(), "second delete is idempotent")
	assert.Equal(t, false, out.Output["existed"])
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exec := newFileTestExecutor()
	ec := state.New("wf", dir, nil, time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o644))

	out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation: workflow.FileOpExists, SourcePath: "present.txt",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, true, out.Output["exists"])
	assert.Equal(t, true, out.Output["isFile"])

	out = exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation: workflow.FileOpExists, SourcePath: "absent.txt",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, false, out.Output["exists"])
}

func TestFileList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src/deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "deep", "util.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.log"), []byte("x"), 0o644))

	exec := newFileTestExecutor()
	ec := state.New("wf", dir, nil, time.Now())

	out := exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation:      workflow.FileOpList,
		SourcePath:     ".",
		IgnorePatterns: []string{"*.log"},
	}), ec)
	require.True(t, out.Success(), out.Error)

	paths := listedPaths(t, out)
	assert.Contains(t, paths, "src/main.go")
	assert.Contains(t, paths, "src/deep/util.go")
	assert.NotContains(t, paths, "skip.log")

	out = exec.Execute(context.Background(), fileNode(t, workflow.FileConfig{
		Operation:  workflow.FileOpList,
		SourcePath: ".",
		MaxDepth:   1,
	}), ec)
	require.True(t, out.Success(), out.Error)
	paths = listedPaths(t, out)
	assert.Contains(t, paths, "src")
	assert.NotContains(t, paths, "src/main.go")
}

func listedPaths(t *testing.T, out *workflow.NodeOutput) []string {
	t.Helper()
	entries, ok := out.Output["entries"].([]map[string]any)
	require.True(t, ok, "entries type %T", out.Output["entries"])
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, entry["path"].(string))
	}
	return paths
}
