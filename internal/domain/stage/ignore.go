package stage

import (
	"bufio"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultIgnore lists entries that are never published.
var DefaultIgnore = []string{
	".git",
	".DS_Store",
	"Thumbs.db",
	"node_modules",
	"dist",
	"dist-ssr",
	"build",
	"target",
	"__pycache__",
	"*.pyc",
	"*.pyo",
	"*.log",
	"*.tmp",
}

// Rules is an ordered set of ignore patterns matched against slash separated
// relative paths.
type Rules struct {
	patterns []string
}

func NewRules(patterns ...[]string) Rules {
	var r Rules
	seen := map[string]struct{}{}
	for _, list := range patterns {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			r.patterns = append(r.patterns, p)
		}
	}
	return r
}

func (r Rules) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// Match reports whether rel is ignored. A pattern matches when it globs the
// whole path or its base name, names the path or one of its ancestors, or
// equals any single segment.
func (r Rules) Match(rel string) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	base := path.Base(rel)
	segments := strings.Split(rel, "/")
	for _, pat := range r.patterns {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
		clean := strings.TrimRight(pat, "/")
		if clean == "" {
			continue
		}
		if rel == clean || strings.HasPrefix(rel, clean+"/") {
			return true
		}
		for _, seg := range segments {
			if seg == clean {
				return true
			}
		}
	}
	return false
}

// LoadGitignore collects patterns from .gitignore files in dir and every
// parent directory. Unreadable files are logged and skipped.
func LoadGitignore(dir string, logger *slog.Logger) []string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	var patterns []string
	for {
		patterns = append(patterns, readGitignore(filepath.Join(abs, ".gitignore"), logger)...)
		parent := filepath.Dir(abs)
		if parent == abs {
			break
		}
		abs = parent
	}
	return patterns
}

func readGitignore(file string, logger *slog.Logger) []string {
	f, err := os.Open(file)
	if err != nil {
		if !os.IsNotExist(err) && logger != nil {
			logger.Warn("read .gitignore failed", "path", file, "error", err)
		}
		return nil
	}
	defer f.Close()
	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("read .gitignore failed", "path", file, "error", err)
	}
	return patterns
}
