package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

const defYAML = `id: farewell
version: 1.0.0
nodes:
  - id: start
    kind: code
    config:
      language: javascript
      code: "1"
edges: []
`

func writeDef(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFSLoaderResolvesVersions(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "greet-1.json", "{\n  \"id\": \"greet\",\n  \"version\": \"1.0.0\",\n  \"nodes\": [{\"id\": \"start\", \"kind\": \"code\"}],\n  \"edges\": []\n}")
	writeDef(t, dir, "greet-2.json", "{\n  \"id\": \"greet\",\n  \"version\": \"1.2.0\",\n  \"nodes\": [{\"id\": \"start\", \"kind\": \"code\"}],\n  \"edges\": []\n}")

	loader := NewFSLoader(dir)
	ctx := context.Background()

	t.Run("explicit version", func(t *testing.T) {
		def, err := loader.LoadWorkflow(ctx, "greet", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", def.Version)
	})

	t.Run("latest picks highest semver", func(t *testing.T) {
		def, err := loader.LoadWorkflow(ctx, "greet", VersionLatest)
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", def.Version)
	})

	t.Run("empty version means latest", func(t *testing.T) {
		def, err := loader.LoadWorkflow(ctx, "greet", "")
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", def.Version)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := loader.LoadWorkflow(ctx, "ghost", VersionLatest)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := loader.LoadWorkflow(ctx, "greet", "9.9.9")
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})
}

func TestFSLoaderReadsYAML(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "farewell.yaml", defYAML)

	loader := NewFSLoader(dir)
	def, err := loader.LoadWorkflow(context.Background(), "farewell", VersionLatest)
	require.NoError(t, err)
	assert.Equal(t, "farewell", def.ID)
	require.Len(t, def.Nodes, 1)
	assert.Equal(t, workflow.KindCode, def.Nodes[0].Kind)
}

func TestFSLoaderRejectsInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "broken.json", `{"id": "broken", "nodes": [], "edges": []}`)

	loader := NewFSLoader(dir)
	_, err := loader.LoadWorkflow(context.Background(), "broken", VersionLatest)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDefinition, apperrors.CodeOf(err))
}

func TestFSLoaderReload(t *testing.T) {
	dir := t.TempDir()
	loader := NewFSLoader(dir)
	ctx := context.Background()

	_, err := loader.LoadWorkflow(ctx, "greet", VersionLatest)
	require.Error(t, err)

	writeDef(t, dir, "greet.json", "{\n  \"id\": \"greet\",\n  \"version\": \"1.0.0\",\n  \"nodes\": [{\"id\": \"start\", \"kind\": \"code\"}],\n  \"edges\": []\n}")
	loader.Reload()

	def, err := loader.LoadWorkflow(ctx, "greet", VersionLatest)
	require.NoError(t, err)
	assert.Equal(t, "greet", def.ID)
}

func TestMapLoader(t *testing.T) {
	loader := NewMapLoader()
	loader.Add(&workflow.Definition{ID: "inline", Version: "0.1.0",
		Nodes: []workflow.Node{{ID: "start", Kind: workflow.KindCode}}})

	def, err := loader.LoadWorkflow(context.Background(), "inline", VersionLatest)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", def.Version)

	_, err = loader.LoadWorkflow(context.Background(), "ghost", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}
