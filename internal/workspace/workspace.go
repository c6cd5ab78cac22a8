// Package workspace owns the private temporary directory of one analysis run.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrOutside is returned when a file name would resolve outside the workspace.
var ErrOutside = errors.New("path escapes workspace")

// Options controls workspace placement and teardown.
type Options struct {
	// Root is the parent directory; empty means os.TempDir().
	Root string
	// ForceRemove removes whatever is left in the directory after the tracked
	// files are gone. When false a non-empty directory is left behind with a warning.
	ForceRemove bool
	Logger      *slog.Logger
}

// Workspace is a uniquely named directory plus the set of files written into it.
type Workspace struct {
	dir   string
	opts  Options
	log   *slog.Logger
	mu    sync.Mutex
	files map[string]struct{}
	done  bool
}

// Create makes a fresh directory under opts.Root whose name starts with prefix.
func Create(prefix string, opts Options) (*Workspace, error) {
	root := opts.Root
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Workspace{dir: dir, opts: opts, log: log, files: map[string]struct{}{}}, nil
}

// Path returns the workspace directory.
func (w *Workspace) Path() string {
	return w.dir
}

// File returns the path of name inside the workspace and tracks it for removal.
// name must be a bare file name.
func (w *Workspace) File(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrOutside, name)
	}
	p := filepath.Join(w.dir, name)
	w.Track(p)
	return p, nil
}

// Create creates (or truncates) name inside the workspace.
func (w *Workspace) Create(name string) (*os.File, error) {
	p, err := w.File(name)
	if err != nil {
		return nil, err
	}
	return os.Create(p)
}

// CreateTemp creates a uniquely named file inside the workspace.
func (w *Workspace) CreateTemp(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(w.dir, pattern)
	if err != nil {
		return nil, err
	}
	w.Track(f.Name())
	return f, nil
}

// Track records a path for removal at Dispose.
func (w *Workspace) Track(path string) {
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
}

// Remove deletes a tracked file now.
func (w *Workspace) Remove(path string) error {
	w.mu.Lock()
	delete(w.files, path)
	w.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Dispose removes the tracked files and then the directory. It never fails;
// problems are logged at warn level. Calling it again is a no-op.
func (w *Workspace) Dispose() {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.done = true
	files := w.files
	w.files = map[string]struct{}{}
	w.mu.Unlock()

	for p := range files {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.log.Warn("workspace cleanup failed", "path", p, "error", err)
		}
	}

	err := os.Remove(w.dir)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}
	if !w.opts.ForceRemove {
		w.log.Warn("workspace left behind", "dir", w.dir, "error", err)
		return
	}
	if err := os.RemoveAll(w.dir); err != nil {
		w.log.Warn("workspace cleanup failed", "dir", w.dir, "error", err)
	}
}
