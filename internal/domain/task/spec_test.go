package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tasuku43/gitpush/internal/apperr"
)

func TestSpecNormalizeDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	spec, repo, err := Spec{
		Repo:       " octo/hello ",
		Paths:      []string{dir, "  "},
		Credential: "tok",
	}.Normalize("github.com")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if spec.Branch != "main" {
		t.Fatalf("branch = %q", spec.Branch)
	}
	if spec.Conflict != ConflictOverwrite {
		t.Fatalf("conflict = %q", spec.Conflict)
	}
	if spec.Limits != DefaultLimits() {
		t.Fatalf("limits = %+v", spec.Limits)
	}
	if len(spec.Paths) != 1 || spec.Paths[0] != dir {
		t.Fatalf("paths = %v", spec.Paths)
	}
	if repo.RepoKey != "github.com/octo/hello" {
		t.Fatalf("repo key = %q", repo.RepoKey)
	}
}

func TestSpecNormalizeKeepsExplicitLimits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	spec, _, err := Spec{
		Repo:       "octo/hello",
		Paths:      []string{dir},
		Limits:     Limits{MaxSingleFile: 100},
		Credential: "tok",
	}.Normalize("github.com")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if spec.Limits.MaxSingleFile != 100 || spec.Limits.MaxFiles != 10000 || spec.Limits.MaxTotalBytes != 200<<20 {
		t.Fatalf("limits = %+v", spec.Limits)
	}
}

func TestSpecNormalizeRejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cases := []struct {
		name string
		spec Spec
	}{
		{"no paths", Spec{Repo: "o/r"}},
		{"blank paths", Spec{Repo: "o/r", Paths: []string{" "}}},
		{"https without token", Spec{Repo: "o/r", Paths: []string{file}}},
		{"https url without token", Spec{Repo: "https://github.com/o/r.git", Paths: []string{file}, Credential: "  "}},
		{"bad repo", Spec{Repo: "repo", Paths: []string{file}}},
		{"bad branch", Spec{Repo: "o/r", Branch: "a..b", Paths: []string{file}}},
		{"branch with space", Spec{Repo: "o/r", Branch: "a b", Paths: []string{file}}},
		{"bad conflict", Spec{Repo: "o/r", Conflict: "merge", Paths: []string{file}}},
		{"negative limit", Spec{Repo: "o/r", Paths: []string{file}, Limits: Limits{MaxFiles: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := tc.spec.Normalize("github.com")
			if !apperr.Is(err, apperr.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSpecNormalizeMissingPathIsNotFound(t *testing.T) {
	t.Parallel()

	_, _, err := Spec{
		Repo:       "o/r",
		Paths:      []string{filepath.Join(t.TempDir(), "missing")},
		Credential: "tok",
	}.Normalize("github.com")
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSpecNormalizeTokenOptionalForSSHAndFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, repo := range []string{"git@github.com:o/r.git", "file:///srv/git/example.com/o/r.git"} {
		spec, remote, err := Spec{Repo: repo, Paths: []string{dir}}.Normalize("github.com")
		if err != nil {
			t.Fatalf("normalize %s: %v", repo, err)
		}
		if spec.Credential != "" || remote.RemoteURL("") != remote.Source {
			t.Fatalf("remote url = %q", remote.RemoteURL(""))
		}
	}
}

func TestParseConflict(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Conflict{"": ConflictOverwrite, "SKIP": ConflictSkip, " rename ": ConflictRename} {
		got, err := ParseConflict(in)
		if err != nil || got != want {
			t.Fatalf("ParseConflict(%q) = %q, %v", in, got, err)
		}
	}
}
