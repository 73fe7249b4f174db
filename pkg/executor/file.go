package executor

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// FileExecutor performs filesystem operations rooted in the instance's
// project folder. Relative paths resolve against the project folder;
// when the node requires confinement, resolved paths may not escape it.
type FileExecutor struct {
	resolver *state.Resolver
	clock    Clock
	logger   *slog.Logger
}

// NewFileExecutor creates a file executor.
func NewFileExecutor(resolver *state.Resolver, clock Clock, logger *slog.Logger) *FileExecutor {
	return &FileExecutor{resolver: resolver, clock: clock, logger: logger}
}

func (e *FileExecutor) Kind() string { return workflow.KindFile }

func (e *FileExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.FileConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if err := ctx.Err(); err != nil {
		return workflow.NewFailure(node, now, apperrors.New(
			apperrors.CodeCancelled, "executor", "file operation cancelled", err))
	}

	source, err := e.resolvePath(cfg.SourcePath, &cfg, ec)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}
	target, err := e.resolvePath(cfg.TargetPath, &cfg, ec)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	var output map[string]any
	switch cfg.Operation {
	case workflow.FileOpRead:
		output, err = e.read(source)
	case workflow.FileOpWrite:
		content := e.resolver.Substitute(cfg.Content, ec)
		output, err = e.write(target, content, cfg.Overwrite)
	case workflow.FileOpCopy:
		output, err = e.copy(source, target)
	case workflow.FileOpMove:
		output, err = e.move(source, target)
	case workflow.FileOpDelete:
		output, err = e.delete(source)
	case workflow.FileOpExists:
		output, err = e.exists(source)
	case workflow.FileOpList:
		output, err = e.list(source, &cfg)
	default:
		err = apperrors.Newf(apperrors.CodeDefinition, "executor",
			"unknown file operation %q", cfg.Operation)
	}
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}

	output["success"] = true
	output["operation"] = cfg.Operation
	return workflow.NewSuccess(node, e.clock.Now(), output, nil)
}

// resolvePath substitutes templates, roots relative paths in the project
// folder, and enforces confinement when the node demands it.
func (e *FileExecutor) resolvePath(raw string, cfg *workflow.FileConfig, ec *state.Context) (string, error) {
	if raw == "" {
		return "", nil
	}
	path := e.resolver.Substitute(raw, ec)

	if !filepath.IsAbs(path) {
		if ec.ProjectFolder == "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return "", apperrors.New(apperrors.CodeIO, "executor", "resolving path "+path, err)
			}
			path = abs
		} else {
			path = filepath.Join(ec.ProjectFolder, path)
		}
	}
	path = filepath.Clean(path)

	if cfg.RequireProjectFolder {
		if ec.ProjectFolder == "" {
			return "", apperrors.New(apperrors.CodeAccessDenied, "executor",
				"operation requires a project folder but none is set", nil)
		}
		rel, err := filepath.Rel(ec.ProjectFolder, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", apperrors.Newf(apperrors.CodeAccessDenied, "executor",
				"path %q is outside project folder", path)
		}
	}
	return path, nil
}

func (e *FileExecutor) read(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classifyFSError("reading "+path, err)
	}
	return map[string]any{
		"fileContent": string(data),
		"path":        path,
		"size":        len(data),
	}, nil
}

// write creates the target file, auto-incrementing the name (file-1.txt,
// file-2.txt, ...) when the target exists and overwrite is off.
func (e *FileExecutor) write(path, content string, overwrite bool) (map[string]any, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.CodeDefinition, "executor", "write needs a targetPath", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, classifyFSError("creating parent of "+path, err)
	}

	final := path
	if !overwrite {
		final = nextAvailableName(path)
	}
	if err := os.WriteFile(final, []byte(content), 0o644); err != nil {
		return nil, classifyFSError("writing "+final, err)
	}
	return map[string]any{
		"path":         final,
		"renamed":      final != path,
		"bytesWritten": len(content),
	}, nil
}

func (e *FileExecutor) copy(source, target string) (map[string]any, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, classifyFSError("reading "+source, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, classifyFSError("creating parent of "+target, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return nil, classifyFSError("writing "+target, err)
	}
	return map[string]any{"sourcePath": source, "targetPath": target, "bytesWritten": len(data)}, nil
}

func (e *FileExecutor) move(source, target string) (map[string]any, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, classifyFSError("creating parent of "+target, err)
	}
	if err := os.Rename(source, target); err != nil {
		// Cross-device renames fall back to copy+delete.
		if _, copyErr := e.copy(source, target); copyErr != nil {
			return nil, classifyFSError("moving "+source, err)
		}
		if err := os.Remove(source); err != nil {
			return nil, classifyFSError("removing "+source, err)
		}
	}
	return map[string]any{"sourcePath": source, "targetPath": target}, nil
}

// delete is idempotent: removing a missing path succeeds with existed=false.
func (e *FileExecutor) delete(path string) (map[string]any, error) {
	err := os.Remove(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"path": path, "existed": false}, nil
		}
		return nil, classifyFSError("deleting "+path, err)
	}
	return map[string]any{"path": path, "existed": true}, nil
}

func (e *FileExecutor) exists(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"path": path, "exists": false}, nil
		}
		return nil, classifyFSError("checking "+path, err)
	}
	return map[string]any{
		"path":        path,
		"exists":      true,
		"isFile":      !info.IsDir(),
		"isDirectory": info.IsDir(),
		"size":        info.Size(),
	}, nil
}

// list walks a directory tree honoring depth, explicit ignore patterns and
// optionally the directory's .gitignore.
func (e *FileExecutor) list(root string, cfg *workflow.FileConfig) (map[string]any, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, classifyFSError("listing "+root, err)
	}
	if !info.IsDir() {
		return nil, apperrors.Newf(apperrors.CodeIO, "executor", "%s is not a directory", root)
	}

	matcher := ignore.CompileIgnoreLines(cfg.IgnorePatterns...)
	var gitMatcher *ignore.GitIgnore
	if cfg.UseGitIgnore {
		if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			gitMatcher = gi
		}
	}

	maxDepth := cfg.MaxDepth
	var entries []map[string]any
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if maxDepth > 0 && strings.Count(rel, "/")+1 > maxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.MatchesPath(rel) || (gitMatcher != nil && gitMatcher.MatchesPath(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entry := map[string]any{
			"path":        rel,
			"isDirectory": d.IsDir(),
		}
		if fi, err := d.Info(); err == nil && !d.IsDir() {
			entry["size"] = fi.Size()
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, classifyFSError("listing "+root, err)
	}

	return map[string]any{
		"path":    root,
		"entries": entries,
		"count":   len(entries),
	}, nil
}

// nextAvailableName returns path itself when free, otherwise the first
// name-N.ext that does not exist yet.
func nextAvailableName(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// classifyFSError maps os errors onto the error taxonomy.
func classifyFSError(op string, err error) error {
	switch {
	case os.IsNotExist(err):
		return apperrors.New(apperrors.CodeNotFound, "executor", op, err)
	case os.IsPermission(err):
		return apperrors.New(apperrors.CodeAccessDenied, "executor", op, err)
	default:
		return apperrors.New(apperrors.CodeIO, "executor", op, err)
	}
}
