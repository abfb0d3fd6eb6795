package workspace

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/tasuku43/gitpush/internal/domain/repospec"
	"github.com/tasuku43/gitpush/internal/infra/paths"
)

// Path returns the deterministic workspace directory for a repo and branch.
func Path(rootDir string, spec repospec.Spec, branch string) string {
	return filepath.Join(paths.WorkspacesRoot(rootDir), spec.Host, spec.Owner, spec.Repo+"@"+BranchSlug(branch))
}

// BranchSlug maps a branch name to a single path element. Names that need
// rewriting get a short hash suffix so distinct branches stay distinct.
func BranchSlug(branch string) string {
	var b strings.Builder
	for _, r := range branch {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	slug := b.String()
	if slug == branch && slug != "" && slug != "." && slug != ".." {
		return slug
	}
	sum := sha1.Sum([]byte(branch))
	return slug + "-" + hex.EncodeToString(sum[:])[:6]
}
