package task

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/repospec"
)

const DefaultBranch = "main"

type Conflict string

const (
	ConflictOverwrite Conflict = "overwrite"
	ConflictSkip      Conflict = "skip"
	ConflictRename    Conflict = "rename"
)

func ParseConflict(value string) (Conflict, error) {
	switch c := Conflict(strings.ToLower(strings.TrimSpace(value))); c {
	case "":
		return ConflictOverwrite, nil
	case ConflictOverwrite, ConflictSkip, ConflictRename:
		return c, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q (want overwrite, skip or rename)", value)
	}
}

type Limits struct {
	MaxTotalBytes int64
	MaxFiles      int
	MaxSingleFile int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxTotalBytes: 200 << 20,
		MaxFiles:      10000,
		MaxSingleFile: 100 << 20,
	}
}

// WithDefaults replaces zero fields with the defaults.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTotalBytes == 0 {
		l.MaxTotalBytes = d.MaxTotalBytes
	}
	if l.MaxFiles == 0 {
		l.MaxFiles = d.MaxFiles
	}
	if l.MaxSingleFile == 0 {
		l.MaxSingleFile = d.MaxSingleFile
	}
	return l
}

// Spec holds the immutable inputs of a task.
type Spec struct {
	Repo           string
	Branch         string
	Paths          []string
	Conflict       Conflict
	IgnorePatterns []string
	Limits         Limits
	Force          bool
	Priority       int
	Credential     string
}

// Normalize trims the inputs, applies defaults and validates them. A missing
// source path is a not found error; every other problem is a validation error.
func (s Spec) Normalize(defaultHost string) (Spec, repospec.Spec, error) {
	out := s
	out.Repo = strings.TrimSpace(s.Repo)
	out.Credential = strings.TrimSpace(s.Credential)
	out.Branch = strings.TrimSpace(s.Branch)
	if out.Branch == "" {
		out.Branch = DefaultBranch
	}
	if err := validateBranch(out.Branch); err != nil {
		return Spec{}, repospec.Spec{}, apperr.Validation("%v", err)
	}

	repo, err := repospec.NormalizeWithHost(out.Repo, defaultHost)
	if err != nil {
		return Spec{}, repospec.Spec{}, apperr.Validation("invalid repo: %v", err)
	}
	// ssh and file remotes authenticate without the token
	if repo.Scheme == repospec.SchemeHTTPS && out.Credential == "" {
		return Spec{}, repospec.Spec{}, apperr.Validation("token is required for https remotes")
	}

	conflict, err := ParseConflict(string(s.Conflict))
	if err != nil {
		return Spec{}, repospec.Spec{}, apperr.Validation("%v", err)
	}
	out.Conflict = conflict

	out.Paths = nil
	for _, p := range s.Paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return Spec{}, repospec.Spec{}, apperr.NotFound("path %s does not exist", p)
		} else if err != nil {
			return Spec{}, repospec.Spec{}, apperr.Validation("path %s is not accessible: %v", p, err)
		}
		out.Paths = append(out.Paths, p)
	}
	if len(out.Paths) == 0 {
		return Spec{}, repospec.Spec{}, apperr.Validation("at least one path is required")
	}

	out.IgnorePatterns = nil
	for _, p := range s.IgnorePatterns {
		if p = strings.TrimSpace(p); p != "" {
			out.IgnorePatterns = append(out.IgnorePatterns, p)
		}
	}

	if s.Limits.MaxTotalBytes < 0 || s.Limits.MaxFiles < 0 || s.Limits.MaxSingleFile < 0 {
		return Spec{}, repospec.Spec{}, apperr.Validation("limits must not be negative")
	}
	out.Limits = s.Limits.WithDefaults()
	return out, repo, nil
}

func validateBranch(name string) error {
	switch {
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"):
		return fmt.Errorf("invalid branch name %q", name)
	case strings.HasSuffix(name, ".lock"), strings.HasSuffix(name, "."):
		return fmt.Errorf("invalid branch name %q", name)
	case strings.Contains(name, ".."), strings.Contains(name, "//"), strings.Contains(name, "@{"):
		return fmt.Errorf("invalid branch name %q", name)
	case strings.ContainsAny(name, " ~^:?*[\\\t\n"):
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}
