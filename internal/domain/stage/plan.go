package stage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/task"
)

const largeSourceBytes = 1 << 30

type job struct {
	src  string
	dest string // relative to the destination root
	size int64
}

type plan struct {
	files     []job
	emptyDirs []string // relative to the destination root
}

func (s *Stager) plan(ctx context.Context, req Request) (plan, error) {
	var p plan
	for _, source := range req.Sources {
		if err := ctx.Err(); err != nil {
			return plan{}, err
		}
		abs, err := filepath.Abs(source)
		if err != nil {
			return plan{}, apperr.Validation("invalid path %s: %v", source, err)
		}
		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			return plan{}, apperr.NotFound("path %s does not exist", source)
		}
		if err != nil {
			return plan{}, apperr.Validation("path %s is not accessible: %v", source, err)
		}
		if !info.IsDir() {
			rules := NewRules(DefaultIgnore, req.Ignore, LoadGitignore(filepath.Dir(abs), s.logger))
			name := filepath.Base(abs)
			if rules.Match(name) {
				s.logger.Debug("ignored", "path", abs)
				continue
			}
			p.files = append(p.files, job{src: abs, dest: name, size: info.Size()})
			continue
		}
		if err := s.planDir(ctx, req, abs, &p); err != nil {
			return plan{}, err
		}
	}
	return p, nil
}

func (s *Stager) planDir(ctx context.Context, req Request, root string, p *plan) error {
	rules := NewRules(DefaultIgnore, req.Ignore, LoadGitignore(root, s.logger))
	name := filepath.Base(root)
	if req.Conflict == task.ConflictRename {
		if _, err := os.Lstat(filepath.Join(req.Dest, name)); err == nil {
			name = UniqueName(req.Dest, name)
		}
	}

	w := &dirWalk{
		ctx:        ctx,
		root:       root,
		name:       name,
		rules:      rules,
		logger:     s.logger,
		children:   map[string]int{},
		unreadable: map[string]bool{},
	}
	if err := filepath.WalkDir(root, w.visit); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Validation("walk %s: %v", root, err)
	}
	files, total := w.files, w.total

	empty := w.emptyDirs()
	if len(files) == 0 && len(empty) == 0 {
		s.logger.Warn("directory has nothing to publish", "path", root)
		return nil
	}
	if total > largeSourceBytes {
		s.logger.Warn("large upload, push may be slow or rejected by the remote",
			"path", root, "bytes", total)
	}
	s.logger.Info("planned directory", "path", root, "files", len(files), "empty_dirs", len(empty), "bytes", total)
	p.files = append(p.files, files...)
	p.emptyDirs = append(p.emptyDirs, empty...)
	return nil
}

// dirWalk collects the files and directories below one source directory.
type dirWalk struct {
	ctx    context.Context
	root   string
	name   string
	rules  Rules
	logger *slog.Logger

	files      []job
	total      int64
	dirs       []string
	children   map[string]int
	unreadable map[string]bool
}

func (w *dirWalk) visit(current string, d fs.DirEntry, walkErr error) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if current == w.root {
		return walkErr
	}
	rel, err := filepath.Rel(w.root, current)
	if err != nil {
		return err
	}
	if walkErr != nil {
		w.logger.Warn("skip unreadable entry", "path", current, "error", walkErr)
		if d != nil && d.IsDir() {
			// WalkDir reports a directory again when reading its entries fails
			w.unreadable[rel] = true
			return fs.SkipDir
		}
		return nil
	}
	if w.rules.Match(filepath.ToSlash(rel)) {
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}
	info, err := entryInfo(current, d)
	if err != nil {
		w.logger.Warn("skip unreadable entry", "path", current, "error", err)
		return nil
	}
	switch {
	case d.IsDir():
		w.dirs = append(w.dirs, rel)
		w.children[filepath.Dir(rel)]++
	case info.Mode().IsRegular():
		w.files = append(w.files, job{src: current, dest: filepath.Join(w.name, rel), size: info.Size()})
		w.total += info.Size()
		w.children[filepath.Dir(rel)]++
	default:
		w.logger.Debug("skip non-regular entry", "path", current, "mode", info.Mode().String())
	}
	return nil
}

// emptyDirs lists directories without children, relative to the
// destination root. Directories whose entries could not be read are left out.
func (w *dirWalk) emptyDirs() []string {
	var empty []string
	for _, dir := range w.dirs {
		if w.children[dir] == 0 && !w.unreadable[dir] {
			empty = append(empty, filepath.Join(w.name, dir))
		}
	}
	return empty
}

// entryInfo resolves symlinks so linked files are copied by content.
func entryInfo(current string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(current)
	}
	return d.Info()
}
