package gitcmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

func (r *Runner) Init(ctx context.Context, dir string) error {
	return r.simple(ctx, dir, "init", "init")
}

func (r *Runner) ConfigSet(ctx context.Context, dir, key, value string) error {
	return r.simple(ctx, dir, "config "+key, "config", key, value)
}

// RemoteGetURL returns the remote URL for the given name.
func (r *Runner) RemoteGetURL(ctx context.Context, dir, name string) (string, error) {
	res, err := r.Run(ctx, []string{"remote", "get-url", name}, Options{Dir: dir})
	if err != nil {
		return "", commandError("remote get-url "+name, res, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// SetRemote points name at url, adding the remote when it does not exist yet.
func (r *Runner) SetRemote(ctx context.Context, dir, name, url string) error {
	if _, err := r.RemoteGetURL(ctx, dir, name); err != nil {
		return r.simple(ctx, dir, "remote add "+name, "remote", "add", name, url)
	}
	return r.simple(ctx, dir, "remote set-url "+name, "remote", "set-url", name, url)
}

// ErrRemoteRefNotFound marks a fetch of a branch the remote does not have.
var ErrRemoteRefNotFound = errors.New("remote ref not found")

// Fetch fetches branch into FETCH_HEAD. A missing remote branch yields an
// error wrapping ErrRemoteRefNotFound.
func (r *Runner) Fetch(ctx context.Context, dir, remote, branch string) error {
	res, err := r.Run(ctx, []string{"fetch", "--no-tags", remote, branch}, Options{Dir: dir})
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(res.Stderr), "couldn't find remote ref") {
		return fmt.Errorf("git fetch %s %s: %w", remote, branch, ErrRemoteRefNotFound)
	}
	return commandError("fetch "+remote+" "+branch, res, err)
}

// ResetToFetched moves branch onto FETCH_HEAD and discards local changes.
func (r *Runner) ResetToFetched(ctx context.Context, dir, branch string) error {
	return r.simple(ctx, dir, "checkout "+branch, "checkout", "-f", "-B", branch, "FETCH_HEAD")
}

// Clean removes untracked files. With ignored set it also removes files
// matched by .gitignore.
func (r *Runner) Clean(ctx context.Context, dir string, ignored bool) error {
	flags := "-fd"
	if ignored {
		flags = "-fdx"
	}
	return r.simple(ctx, dir, "clean", "clean", flags)
}

// Orphan leaves dir on an unborn branch with an empty index and no files.
func (r *Runner) Orphan(ctx context.Context, dir, branch string) error {
	ref := "refs/heads/" + branch
	if err := r.simple(ctx, dir, "symbolic-ref HEAD", "symbolic-ref", "HEAD", ref); err != nil {
		return err
	}
	// a missing ref is fine here
	_, _ = r.Run(ctx, []string{"update-ref", "-d", ref}, Options{Dir: dir})
	if err := r.simple(ctx, dir, "read-tree --empty", "read-tree", "--empty"); err != nil {
		return err
	}
	return r.Clean(ctx, dir, true)
}

// Checkout switches to branch, creating it when it does not exist.
func (r *Runner) Checkout(ctx context.Context, dir, branch string) error {
	if _, err := r.Run(ctx, []string{"checkout", branch}, Options{Dir: dir}); err == nil {
		return nil
	}
	return r.simple(ctx, dir, "checkout -b "+branch, "checkout", "-b", branch)
}

func (r *Runner) AddAll(ctx context.Context, dir string) error {
	return r.simple(ctx, dir, "add", "add", "-A", ".")
}

// StatusPorcelain returns the short status; empty means a clean tree.
func (r *Runner) StatusPorcelain(ctx context.Context, dir string) (string, error) {
	res, err := r.Run(ctx, []string{"status", "--porcelain"}, Options{Dir: dir})
	if err != nil {
		return "", commandError("status", res, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Commit records the index. committed is false when there was nothing to commit.
func (r *Runner) Commit(ctx context.Context, dir, message string) (committed bool, err error) {
	res, err := r.Run(ctx, []string{"commit", "-m", message}, Options{Dir: dir})
	if err != nil {
		if IsNothingToCommit(res) {
			return false, nil
		}
		return false, commandError("commit", res, err)
	}
	return true, nil
}

func (r *Runner) Pull(ctx context.Context, dir, remote, branch string) error {
	return r.simple(ctx, dir, "pull "+remote+" "+branch,
		"pull", remote, branch, "--no-rebase", "--allow-unrelated-histories", "--no-edit")
}

// PushArgs builds the argument list of a push with progress reporting.
func PushArgs(remote, branch string, force bool) []string {
	args := []string{"push", "--progress"}
	if force {
		args = append(args, "--force")
	}
	return append(args, remote, branch)
}

func (r *Runner) simple(ctx context.Context, dir, name string, args ...string) error {
	res, err := r.Run(ctx, args, Options{Dir: dir})
	if err != nil {
		return commandError(name, res, err)
	}
	return nil
}

func commandError(name string, res Result, err error) error {
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		return fmt.Errorf("git %s failed: %w: %s", name, err, stderr)
	}
	return fmt.Errorf("git %s failed: %w", name, err)
}

// IsWorkTree reports whether dir is inside a git work tree.
func (r *Runner) IsWorkTree(ctx context.Context, dir string) bool {
	res, err := r.Run(ctx, []string{"rev-parse", "--is-inside-work-tree"}, Options{Dir: dir})
	return err == nil && strings.TrimSpace(res.Stdout) == "true"
}
