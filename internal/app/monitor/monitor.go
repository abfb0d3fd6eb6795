// Package monitor runs the periodic housekeeping loop: eviction of finished
// tasks, reaping of stuck publish processes and resource ceilings.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tasuku43/gitpush/internal/domain/publish"
	"github.com/tasuku43/gitpush/internal/domain/task"
	"github.com/tasuku43/gitpush/internal/infra/archive"
	"github.com/tasuku43/gitpush/internal/infra/procstat"
)

type Options struct {
	Interval            time.Duration
	Retention           time.Duration
	AggressiveRetention time.Duration
	// MemoryCeiling is in bytes; zero disables the check.
	MemoryCeiling uint64
	// CPUCeiling is a percentage of total capacity; zero disables the check.
	CPUCeiling float64
	// ArchiveRetention bounds how long archived tasks are kept; zero keeps
	// them forever.
	ArchiveRetention time.Duration
}

func DefaultOptions() Options {
	return Options{
		Interval:            time.Minute,
		Retention:           time.Hour,
		AggressiveRetention: 5 * time.Minute,
		MemoryCeiling:       1 << 30,
		CPUCeiling:          90,
		ArchiveRetention:    30 * 24 * time.Hour,
	}
}

// Archiver persists evicted tasks.
type Archiver interface {
	Save(ctx context.Context, records []archive.Record) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type Sampler interface {
	Sample(now time.Time) procstat.Sample
}

// Report summarises one pass.
type Report struct {
	Evicted    []task.Snapshot
	Reaped     []string
	Pruned     int64
	Sample     procstat.Sample
	OverMemory bool
	OverCPU    bool
}

type Monitor struct {
	store      *task.Store
	supervisor *publish.Supervisor
	archiver   Archiver
	sampler    Sampler
	zombie     func(pid int) bool
	opts       Options
	logger     *slog.Logger
	now        func() time.Time

	pressure atomic.Bool
}

type Option func(*Monitor)

func WithArchiver(a Archiver) Option {
	return func(m *Monitor) {
		m.archiver = a
	}
}

func WithSampler(s Sampler) Option {
	return func(m *Monitor) {
		if s != nil {
			m.sampler = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func New(store *task.Store, supervisor *publish.Supervisor, opts Options, logger *slog.Logger, options ...Option) *Monitor {
	defaults := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.Retention <= 0 {
		opts.Retention = defaults.Retention
	}
	if opts.AggressiveRetention <= 0 {
		opts.AggressiveRetention = defaults.AggressiveRetention
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Monitor{
		store:      store,
		supervisor: supervisor,
		sampler:    procstat.NewSampler(),
		zombie:     procstat.IsZombie,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// UnderPressure reports whether the last sample crossed the memory ceiling.
func (m *Monitor) UnderPressure() bool {
	return m.pressure.Load()
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	m.logger.Info("monitor started", "interval", m.opts.Interval, "retention", m.opts.Retention)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one housekeeping pass.
func (m *Monitor) Tick(ctx context.Context) Report {
	now := m.now()
	var report Report
	report.Evicted = m.evict(ctx, m.opts.Retention, now)
	report.Reaped = m.reap()
	report.Pruned = m.prune(ctx, now)

	report.Sample = m.sampler.Sample(now)
	report.OverMemory = m.opts.MemoryCeiling > 0 && report.Sample.Used() > m.opts.MemoryCeiling
	report.OverCPU = m.opts.CPUCeiling > 0 && report.Sample.CPUPercent > m.opts.CPUCeiling
	m.pressure.Store(report.OverMemory)
	if report.OverMemory || report.OverCPU {
		m.logger.Warn("resource ceiling crossed",
			"heap_bytes", report.Sample.HeapInUse,
			"rss_bytes", report.Sample.RSS,
			"memory_ceiling", m.opts.MemoryCeiling,
			"cpu_percent", report.Sample.CPUPercent,
			"cpu_ceiling", m.opts.CPUCeiling,
		)
		report.Evicted = append(report.Evicted, m.evict(ctx, m.opts.AggressiveRetention, now)...)
	}
	return report
}

func (m *Monitor) evict(ctx context.Context, maxAge time.Duration, now time.Time) []task.Snapshot {
	evicted := m.store.EvictStale(maxAge, now)
	if len(evicted) == 0 {
		return nil
	}
	m.logger.Info("evicted finished tasks", "count", len(evicted), "max_age", maxAge)
	if m.archiver == nil {
		return evicted
	}
	records := make([]archive.Record, 0, len(evicted))
	for _, snap := range evicted {
		records = append(records, Record(snap))
	}
	if err := m.archiver.Save(ctx, records); err != nil {
		m.logger.Warn("archive evicted tasks failed", "count", len(records), "error", err)
	}
	return evicted
}

func (m *Monitor) prune(ctx context.Context, now time.Time) int64 {
	if m.archiver == nil || m.opts.ArchiveRetention <= 0 {
		return 0
	}
	n, err := m.archiver.Prune(ctx, now.Add(-m.opts.ArchiveRetention))
	if err != nil {
		m.logger.Warn("prune archive failed", "error", err)
		return 0
	}
	if n > 0 {
		m.logger.Info("pruned archived tasks", "count", n, "max_age", m.opts.ArchiveRetention)
	}
	return n
}

// reap kills publish processes that outlived their task or sit in the
// zombie state.
func (m *Monitor) reap() []string {
	if m.supervisor == nil {
		return nil
	}
	var reaped []string
	for _, run := range m.supervisor.Live() {
		reason := ""
		snap, err := m.store.Get(run.TaskID)
		switch {
		case err != nil:
			reason = "task evicted"
		case snap.Status.Terminal():
			reason = "task finished"
		case m.zombie(run.PID()):
			reason = "zombie"
		}
		if reason == "" {
			continue
		}
		m.logger.Warn("reaping publish process", "task_id", run.TaskID, "pid", run.PID(), "reason", reason)
		if m.supervisor.Reap(run.TaskID) {
			reaped = append(reaped, run.TaskID)
		}
	}
	return reaped
}

// Record converts a snapshot into its archived form.
func Record(s task.Snapshot) archive.Record {
	return archive.Record{
		TaskID:           s.ID,
		RepoKey:          s.RepoKey,
		Branch:           s.Spec.Branch,
		Status:           string(s.Status),
		Error:            s.Error,
		Copied:           s.Counters.Copied,
		Skipped:          s.Counters.Skipped,
		Renamed:          s.Counters.Renamed,
		SkippedIdentical: s.Counters.SkippedIdentical,
		EmptyDirs:        s.Counters.EmptyDirs,
		TotalBytes:       s.Counters.TotalBytes,
		TotalFiles:       s.Counters.TotalFiles,
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
	}
}
