package task

import (
	"slices"
	"time"
)

type Counters struct {
	Copied           int
	Skipped          int
	Renamed          int
	SkippedIdentical int
	EmptyDirs        int
	TotalBytes       int64
	TotalFiles       int
}

// Add returns the field-wise sum of c and d.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		Copied:           c.Copied + d.Copied,
		Skipped:          c.Skipped + d.Skipped,
		Renamed:          c.Renamed + d.Renamed,
		SkippedIdentical: c.SkippedIdentical + d.SkippedIdentical,
		EmptyDirs:        c.EmptyDirs + d.EmptyDirs,
		TotalBytes:       c.TotalBytes + d.TotalBytes,
		TotalFiles:       c.TotalFiles + d.TotalFiles,
	}
}

// Covers reports whether every field of c is at least the one in prev.
func (c Counters) Covers(prev Counters) bool {
	return c.Copied >= prev.Copied &&
		c.Skipped >= prev.Skipped &&
		c.Renamed >= prev.Renamed &&
		c.SkippedIdentical >= prev.SkippedIdentical &&
		c.EmptyDirs >= prev.EmptyDirs &&
		c.TotalBytes >= prev.TotalBytes &&
		c.TotalFiles >= prev.TotalFiles
}

type Task struct {
	ID        string
	Spec      Spec
	RepoKey   string
	Status    Status
	Progress  string
	Output    string
	Error     string
	PID       int
	Counters  Counters
	Workspace string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Snapshot is a detached copy of a task. The credential is never included.
type Snapshot struct {
	Task
	CancelRequested bool
}

func (t Task) snapshot(cancelRequested bool) Snapshot {
	cp := t
	cp.Spec.Credential = ""
	cp.Spec.Paths = slices.Clone(t.Spec.Paths)
	cp.Spec.IgnorePatterns = slices.Clone(t.Spec.IgnorePatterns)
	return Snapshot{Task: cp, CancelRequested: cancelRequested}
}

// MaxTranscript bounds Output and Error.
const MaxTranscript = 1 << 20

// AppendLine adds line to a newline separated transcript, dropping the
// oldest text once it grows past MaxTranscript.
func AppendLine(transcript, line string) string {
	var out string
	if transcript == "" {
		out = line
	} else {
		out = transcript + "\n" + line
	}
	if len(out) <= MaxTranscript {
		return out
	}
	out = out[len(out)-MaxTranscript:]
	for i := 0; i < len(out); i++ {
		if out[i] == '\n' {
			return out[i+1:]
		}
	}
	return out
}
