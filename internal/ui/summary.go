package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tasuku43/gitpush/internal/domain/task"
)

// CountersLine summarizes staging counters on one line.
func CountersLine(c task.Counters) string {
	parts := []string{
		fmt.Sprintf("%d copied", c.Copied),
		humanize.Bytes(uint64(max(c.TotalBytes, 0))),
	}
	if c.Renamed > 0 {
		parts = append(parts, fmt.Sprintf("%d renamed", c.Renamed))
	}
	if c.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", c.Skipped))
	}
	if c.SkippedIdentical > 0 {
		parts = append(parts, fmt.Sprintf("%d identical", c.SkippedIdentical))
	}
	if c.EmptyDirs > 0 {
		parts = append(parts, fmt.Sprintf("%d empty dirs", c.EmptyDirs))
	}
	return strings.Join(parts, ", ")
}

// RenderResult writes the outcome of a finished task.
func RenderResult(r *Renderer, snap task.Snapshot) {
	r.Section("Result")
	switch snap.Status {
	case task.StatusDone:
		r.Success(fmt.Sprintf("pushed %s to %s", snap.RepoKey, snap.Spec.Branch))
	case task.StatusCanceled:
		r.Warn(fmt.Sprintf("%s canceled", snap.ID))
	default:
		r.BulletError(fmt.Sprintf("%s %s", snap.ID, snap.Status))
	}
	r.KeyValue("task", snap.ID)
	r.KeyValue("files", CountersLine(snap.Counters))
	if !snap.StartedAt.IsZero() && !snap.FinishedAt.IsZero() {
		r.KeyValue("elapsed", snap.FinishedAt.Sub(snap.StartedAt).Round(10 * time.Millisecond).String())
	}
	if snap.Status == task.StatusDone {
		if out := strings.TrimSpace(snap.Output); out != "" {
			r.StepLog("git")
			r.StepLogLines(out)
		}
		return
	}
	if msg := strings.TrimSpace(snap.Error); msg != "" {
		r.StepLog("error")
		r.StepLogLines(msg)
	}
}

// RenderTasks lists snapshots one per line.
func RenderTasks(r *Renderer, title string, snaps []task.Snapshot) {
	r.Section(title)
	if len(snaps) == 0 {
		r.Result("(none)")
		return
	}
	for _, s := range snaps {
		line := fmt.Sprintf("%s %s %s@%s", s.ID, statusLabel(r, s.Status), s.RepoKey, s.Spec.Branch)
		if p := strings.TrimSpace(s.Progress); p != "" {
			line += r.style(" ("+p+")", r.theme.Muted)
		}
		r.Result(line)
	}
}

func statusLabel(r *Renderer, status task.Status) string {
	text := string(status)
	switch status {
	case task.StatusDone:
		return r.style(text, r.theme.Success)
	case task.StatusError:
		return r.style(text, r.theme.Error)
	case task.StatusCanceled:
		return r.style(text, r.theme.Warn)
	default:
		return r.style(text, r.theme.Accent)
	}
}
