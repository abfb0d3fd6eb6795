package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/repospec"
	"github.com/tasuku43/gitpush/internal/infra/redact"
)

type entry struct {
	task     Task
	redactor redact.Redactor
	cancel   bool
}

// Store is the in-memory task registry. Readers get snapshots; the owning
// worker mutates a task only through Update.
type Store struct {
	mu          sync.RWMutex
	tasks       map[string]*entry
	defaultHost string
	now         func() time.Time
}

type Option func(*Store)

func WithDefaultHost(host string) Option {
	return func(s *Store) {
		if host != "" {
			s.defaultHost = host
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		tasks:       map[string]*entry{},
		defaultHost: repospec.DefaultHost,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DefaultHost() string {
	return s.defaultHost
}

// Submit validates spec and registers a pending task.
func (s *Store) Submit(spec Spec) (Snapshot, error) {
	normalized, repo, err := spec.Normalize(s.defaultHost)
	if err != nil {
		return Snapshot{}, err
	}
	t := Task{
		ID:        uuid.NewString(),
		Spec:      normalized,
		RepoKey:   repo.RepoKey,
		Status:    StatusPending,
		Progress:  "queued",
		CreatedAt: s.now(),
	}
	e := &entry{task: t, redactor: redactorFor(normalized.Credential)}

	s.mu.Lock()
	s.tasks[t.ID] = e
	s.mu.Unlock()
	return t.snapshot(false), nil
}

func redactorFor(credential string) redact.Redactor {
	if credential == "" {
		return redact.URLCredentials{}
	}
	return redact.Chain{redact.NewSecrets(credential), redact.URLCredentials{}}
}

func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, apperr.NotFound("task %s not found", id)
	}
	return e.task.snapshot(e.cancel), nil
}

// Spec returns the full inputs of a task, credential included. Only the
// worker that owns the task should call it.
func (s *Store) Spec(id string) (Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return Spec{}, apperr.NotFound("task %s not found", id)
	}
	return e.task.Spec, nil
}

// Redactor returns the redactor that masks the task's credential.
func (s *Store) Redactor(id string) redact.Redactor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.tasks[id]; ok {
		return e.redactor
	}
	return redact.URLCredentials{}
}

// Update applies fn to a copy of the task and commits it when the result
// respects the state machine and counter monotonicity. Inputs and identity
// cannot be changed through fn.
func (s *Store) Update(id string, fn func(*Task)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, apperr.NotFound("task %s not found", id)
	}
	prev := e.task
	next := prev
	fn(&next)
	next.ID = prev.ID
	next.Spec = prev.Spec
	next.RepoKey = prev.RepoKey
	next.CreatedAt = prev.CreatedAt

	if next.Status != prev.Status {
		if err := Transition(prev.Status, next.Status); err != nil {
			return prev.snapshot(e.cancel), fmt.Errorf("task %s: %w", id, err)
		}
		now := s.now()
		if next.Status == StatusRunning && next.StartedAt.IsZero() {
			next.StartedAt = now
		}
		if next.Status.Terminal() && next.FinishedAt.IsZero() {
			next.FinishedAt = now
		}
	}
	if !next.Counters.Covers(prev.Counters) {
		return prev.snapshot(e.cancel), fmt.Errorf("task %s: counters must not decrease", id)
	}
	next.Progress = redact.String(e.redactor, next.Progress)
	next.Output = redact.String(e.redactor, next.Output)
	next.Error = redact.String(e.redactor, next.Error)
	e.task = next
	return next.snapshot(e.cancel), nil
}

// RequestCancel flags the task for cancellation. It reports the state the
// task was in when the request arrived.
func (s *Store) RequestCancel(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, apperr.NotFound("task %s not found", id)
	}
	if !e.task.Status.Terminal() {
		e.cancel = true
	}
	return e.task.snapshot(e.cancel), nil
}

func (s *Store) CancelRequested(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	return ok && e.cancel
}

// EvictStale removes terminal tasks that finished more than maxAge before now
// and returns them.
func (s *Store) EvictStale(maxAge time.Duration, now time.Time) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []Snapshot
	for id, e := range s.tasks {
		if !e.task.Status.Terminal() || e.task.FinishedAt.IsZero() {
			continue
		}
		if now.Sub(e.task.FinishedAt) <= maxAge {
			continue
		}
		evicted = append(evicted, e.task.snapshot(e.cancel))
		delete(s.tasks, id)
	}
	sortSnapshots(evicted)
	return evicted
}

// List returns every task ordered by creation time.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.task.snapshot(e.cancel))
	}
	s.mu.RUnlock()
	sortSnapshots(out)
	return out
}

// Counts returns the number of tasks per status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Status]int{}
	for _, e := range s.tasks {
		counts[e.task.Status]++
	}
	return counts
}

func sortSnapshots(list []Snapshot) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
