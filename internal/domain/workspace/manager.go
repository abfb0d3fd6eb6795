package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/repospec"
	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
	"github.com/tasuku43/gitpush/internal/infra/paths"
	"github.com/tasuku43/gitpush/internal/infra/redact"
)

const remoteName = "origin"

type Identity struct {
	Name  string
	Email string
}

func DefaultIdentity() Identity {
	return Identity{Name: "gitpush", Email: "gitpush@localhost"}
}

type Request struct {
	TaskID     string
	Repo       repospec.Spec
	Branch     string
	Credential string
	Redactor   redact.Redactor
}

// Workspace is a prepared working tree. Release must be called once the
// caller is done with it.
type Workspace struct {
	Path    string
	Branch  string
	RepoKey string
	// Fresh is true when the remote branch did not exist and the tree
	// starts empty.
	Fresh bool

	release func()
}

func (w *Workspace) Release() {
	if w != nil && w.release != nil {
		w.release()
		w.release = nil
	}
}

// Manager owns the workspace cache under <root>/workspaces. Each path is
// used by at most one task at a time.
type Manager struct {
	rootDir  string
	git      *gitcmd.Runner
	logger   *slog.Logger
	identity Identity

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewManager(rootDir string, git *gitcmd.Runner, identity Identity, logger *slog.Logger) *Manager {
	if git == nil {
		git = gitcmd.NewRunner(nil)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := DefaultIdentity()
	if strings.TrimSpace(identity.Name) == "" {
		identity.Name = d.Name
	}
	if strings.TrimSpace(identity.Email) == "" {
		identity.Email = d.Email
	}
	return &Manager{
		rootDir:  rootDir,
		git:      git,
		logger:   logger,
		identity: identity,
		locks:    map[string]chan struct{}{},
	}
}

func (m *Manager) Root() string {
	return paths.WorkspacesRoot(m.rootDir)
}

func (m *Manager) Path(spec repospec.Spec, branch string) string {
	return Path(m.rootDir, spec, branch)
}

// Prepare returns a workspace synchronised with the remote branch: local
// changes and untracked files are discarded and origin points at the remote
// with the credential embedded.
func (m *Manager) Prepare(ctx context.Context, req Request) (*Workspace, error) {
	path := m.Path(req.Repo, req.Branch)
	release, err := m.acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	ws, err := m.prepare(ctx, req, path)
	if err != nil {
		release()
		return nil, err
	}
	ws.release = release
	return ws, nil
}

func (m *Manager) prepare(ctx context.Context, req Request, path string) (*Workspace, error) {
	git := m.git.With(req.TaskID, req.Redactor)
	logger := m.logger.With("task_id", req.TaskID, "repo", req.Repo.RepoKey, "branch", req.Branch)

	path, err := m.ensureDir(ctx, git, path, logger)
	if err != nil {
		return nil, err
	}
	if ok, _ := paths.DirExists(filepath.Join(path, ".git")); !ok {
		if err := git.Init(ctx, path); err != nil {
			return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "initialise workspace")
		}
	}
	if err := git.ConfigSet(ctx, path, "user.name", m.identity.Name); err != nil {
		return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "configure workspace")
	}
	if err := git.ConfigSet(ctx, path, "user.email", m.identity.Email); err != nil {
		return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "configure workspace")
	}
	if err := git.SetRemote(ctx, path, remoteName, req.Repo.RemoteURL(req.Credential)); err != nil {
		return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "configure remote")
	}

	ws := &Workspace{Path: path, Branch: req.Branch, RepoKey: req.Repo.RepoKey}
	if err := git.Fetch(ctx, path, remoteName, req.Branch); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, gitcmd.ErrRemoteRefNotFound) {
			return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "fetch %s", req.Branch)
		}
		logger.Warn("remote branch not fetched, starting from an empty tree", "error", err)
		if err := git.Orphan(ctx, path, req.Branch); err != nil {
			return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "reset workspace")
		}
		ws.Fresh = true
		return ws, nil
	}
	if err := git.ResetToFetched(ctx, path, req.Branch); err != nil {
		return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "sync workspace")
	}
	if err := git.Clean(ctx, path, false); err != nil {
		return nil, apperr.Wrap(gitcmd.ErrorCode(err), err, "clean workspace")
	}
	return ws, nil
}

// ensureDir makes sure path is either a valid work tree or an empty
// directory. A broken tree that cannot be removed is replaced by a sibling
// path with a random suffix.
func (m *Manager) ensureDir(ctx context.Context, git *gitcmd.Runner, path string, logger *slog.Logger) (string, error) {
	exists, err := paths.DirExists(path)
	if err != nil {
		if rmErr := m.Remove(path); rmErr != nil {
			return "", apperr.Wrap(apperr.CodeInternal, err, "workspace path %s", path)
		}
		exists = false
	}
	if exists {
		hasGit, _ := paths.DirExists(filepath.Join(path, ".git"))
		if hasGit && git.IsWorkTree(ctx, path) {
			return path, nil
		}
		logger.Warn("workspace is not a valid work tree, recreating", "path", path)
		if err := m.Remove(path); err != nil {
			fallback := fmt.Sprintf("%s-%s", path, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
			logger.Warn("remove broken workspace failed, using fallback path", "path", path, "fallback", fallback, "error", err)
			path = fallback
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, err, "create workspace %s", path)
	}
	return path, nil
}

// Remove deletes a workspace directory under the manager root.
func (m *Manager) Remove(path string) error {
	root := m.Root()
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s outside %s", path, root)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

func (m *Manager) acquire(ctx context.Context, path string) (func(), error) {
	m.mu.Lock()
	lock, ok := m.locks[path]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[path] = lock
	}
	m.mu.Unlock()

	select {
	case lock <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-lock })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
