// Package workspace handles on-disk Python sources for the CLI and for
// cross-module resolution: file discovery, module naming, content-hash
// versions and change watching.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"
	"gopkg.in/fsnotify.v1"
)

// skipDirs are never descended into during discovery.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"node_modules": true,
	".mypy_cache":  true,
	".tox":         true,
}

// Workspace is a rooted tree of Python sources.
type Workspace struct {
	fs   afero.Fs
	root string
}

func New(root string) *Workspace {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs injects the filesystem, used by tests.
func NewWithFs(fs afero.Fs, root string) *Workspace {
	return &Workspace{fs: fs, root: filepath.Clean(root)}
}

func (w *Workspace) Root() string {
	return w.root
}

// PythonFiles returns every .py file under the root, sorted, with noise
// directories skipped.
func (w *Workspace) PythonFiles() ([]string, error) {
	var out []string
	err := afero.Walk(w.fs, w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ok, merr := doublestar.Match("**/*.py", filepath.ToSlash(path))
		if merr != nil {
			return merr
		}
		if ok {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("walking %s: %w", w.root, err)
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile returns the file content.
func (w *Workspace) ReadFile(path string) (string, error) {
	buf, err := afero.ReadFile(w.fs, path)
	if err != nil {
		return "", errors.Errorf("reading %s: %w", path, err)
	}
	return string(buf), nil
}

// ModuleName converts a file path into its dotted Python module name
// relative to the root ("pkg/views/home.py" -> "pkg.views.home").
func (w *Workspace) ModuleName(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ".py")
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

// ModuleVersion is the content hash of the module's file, used to key
// the cross-module resolution cache. Unknown modules version to "".
func (w *Workspace) ModuleVersion(module string) string {
	rel := strings.ReplaceAll(module, ".", string(filepath.Separator)) + ".py"
	buf, err := afero.ReadFile(w.fs, filepath.Join(w.root, rel))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:8])
}

// Watch reports changed .py files until the context ends. Events are
// delivered on the callback from the watcher goroutine.
func (w *Workspace) Watch(ctx context.Context, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Errorf("creating watcher: %w", err)
	}

	addErr := afero.Walk(w.fs, w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if skipDirs[info.Name()] {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if addErr != nil {
		return multierr.Append(
			errors.Errorf("registering watch dirs under %s: %w", w.root, addErr),
			watcher.Close())
	}

	log := zerolog.Ctx(ctx)
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Warn().Err(err).Msg("closing watcher")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if strings.HasSuffix(ev.Name, ".py") &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("watch error")
			}
		}
	}()
	return nil
}
