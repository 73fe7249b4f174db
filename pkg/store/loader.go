// Package store provides the persistence surfaces the engine consumes: a
// workflow definition loader backed by a directory of JSON/YAML files, and
// a best-effort instance state store for resumability.
package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// VersionLatest resolves to the highest semantic version of a workflow.
const VersionLatest = "latest"

// Loader fetches workflow definitions by id and version.
type Loader interface {
	LoadWorkflow(ctx context.Context, workflowID, version string) (*workflow.Definition, error)
}

// FSLoader reads definitions from a directory tree of .json/.yaml/.yml
// files. Files are indexed by the definition's declared id and version on
// first use; Reload rescans.
type FSLoader struct {
	dir string

	mu    sync.Mutex
	index map[string]map[string]*workflow.Definition // id -> version -> definition
}

// NewFSLoader creates a loader over the given directory.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{dir: dir}
}

// LoadWorkflow returns the validated definition for the id/version pair.
// Version "latest" (or empty) resolves to the highest semantic version.
func (l *FSLoader) LoadWorkflow(ctx context.Context, workflowID, version string) (*workflow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.New(apperrors.CodeCancelled, "store", "load cancelled", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index == nil {
		if err := l.scanLocked(); err != nil {
			return nil, err
		}
	}

	versions, ok := l.index[workflowID]
	if !ok || len(versions) == 0 {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "store", "workflow %q not found in %s", workflowID, l.dir)
	}

	if version == "" || version == VersionLatest {
		version = highestVersion(versions)
	}
	def, ok := versions[version]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "store",
			"workflow %q has no version %q", workflowID, version)
	}
	return def, nil
}

// Reload drops the index; the next load rescans the directory.
func (l *FSLoader) Reload() {
	l.mu.Lock()
	l.index = nil
	l.mu.Unlock()
}

func (l *FSLoader) scanLocked() error {
	index := make(map[string]map[string]*workflow.Definition)

	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var def workflow.Definition
		// sigs.k8s.io/yaml handles both YAML and plain JSON input.
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return apperrors.New(apperrors.CodeDefinition, "store", "cannot parse "+path, err)
		}
		if err := def.Validate(); err != nil {
			return err
		}

		if index[def.ID] == nil {
			index[def.ID] = make(map[string]*workflow.Definition)
		}
		version := def.Version
		if version == "" {
			version = "0.0.0"
		}
		index[def.ID][version] = &def
		return nil
	})
	if err != nil {
		if _, ok := err.(*apperrors.Error); ok {
			return err
		}
		return apperrors.New(apperrors.CodeIO, "store", "scanning "+l.dir, err)
	}

	l.index = index
	return nil
}

// highestVersion prefers semantic-version ordering and falls back to
// lexicographic ordering for versions that do not parse.
func highestVersion(versions map[string]*workflow.Definition) string {
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}

	sort.Slice(keys, func(i, j int) bool {
		vi, erri := semver.NewVersion(keys[i])
		vj, errj := semver.NewVersion(keys[j])
		if erri == nil && errj == nil {
			return vi.LessThan(vj)
		}
		if erri == nil {
			return false
		}
		if errj == nil {
			return true
		}
		return keys[i] < keys[j]
	})
	return keys[len(keys)-1]
}

// MapLoader serves definitions from memory. Sub-workflow tests and
// embedded use cases register definitions directly.
type MapLoader struct {
	mu   sync.RWMutex
	defs map[string]map[string]*workflow.Definition
}

// NewMapLoader creates an empty in-memory loader.
func NewMapLoader() *MapLoader {
	return &MapLoader{defs: make(map[string]map[string]*workflow.Definition)}
}

// Add registers a definition under its declared id and version.
func (l *MapLoader) Add(def *workflow.Definition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.defs[def.ID] == nil {
		l.defs[def.ID] = make(map[string]*workflow.Definition)
	}
	version := def.Version
	if version == "" {
		version = "0.0.0"
	}
	l.defs[def.ID][version] = def
}

// LoadWorkflow implements Loader.
func (l *MapLoader) LoadWorkflow(ctx context.Context, workflowID, version string) (*workflow.Definition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	versions, ok := l.defs[workflowID]
	if !ok || len(versions) == 0 {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "store", "workflow %q not found", workflowID)
	}
	if version == "" || version == VersionLatest {
		version = highestVersion(versions)
	}
	def, ok := versions[version]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "store", "workflow %q has no version %q", workflowID, version)
	}
	return def, nil
}
