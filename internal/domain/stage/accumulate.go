package stage

import (
	"sync"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/task"
)

type outcome int

const (
	outcomeCopied outcome = iota
	outcomeRenamed
	outcomeSkipped
	outcomeIdentical
)

// accumulator aggregates counters and enforces the file and byte limits for
// both the sequential and the pooled path. A renamed file counts twice in
// TotalFiles but once against MaxFiles.
type accumulator struct {
	mu       sync.Mutex
	counters task.Counters
	limits   task.Limits
	progress func(task.Counters)

	// touched counts source files that were copied, renamed or skipped by
	// strategy. Files lost to I/O errors are not included.
	touched int

	reservedFiles int
	reservedBytes int64
	fatal         error
}

// reserve claims room for one file of size bytes before it is written.
func (a *accumulator) reserve(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatal != nil {
		return a.fatal
	}
	files := a.touched + a.reservedFiles + 1
	if files > a.limits.MaxFiles {
		return apperr.LimitExceeded("file count exceeds the limit (%d > %d)", files, a.limits.MaxFiles)
	}
	bytes := a.counters.TotalBytes + a.reservedBytes + size
	if bytes > a.limits.MaxTotalBytes {
		return apperr.LimitExceeded("total size exceeds the limit (%d > %d bytes)", bytes, a.limits.MaxTotalBytes)
	}
	a.reservedFiles++
	a.reservedBytes += size
	return nil
}

func (a *accumulator) release(size int64) {
	a.mu.Lock()
	a.reservedFiles--
	a.reservedBytes -= size
	a.mu.Unlock()
}

func (a *accumulator) record(o outcome, written int64) {
	a.mu.Lock()
	switch o {
	case outcomeCopied:
		a.counters.Copied++
		a.counters.TotalFiles++
	case outcomeRenamed:
		a.counters.Copied++
		a.counters.Renamed++
		a.counters.TotalFiles += 2
	case outcomeSkipped:
		a.counters.Skipped++
		a.counters.TotalFiles++
	case outcomeIdentical:
		a.counters.SkippedIdentical++
		a.counters.TotalFiles++
	}
	a.touched++
	a.counters.TotalBytes += written
	if a.fatal == nil {
		switch {
		case a.touched > a.limits.MaxFiles:
			a.fatal = apperr.LimitExceeded("file count exceeds the limit (%d > %d)", a.touched, a.limits.MaxFiles)
		case a.counters.TotalBytes > a.limits.MaxTotalBytes:
			a.fatal = apperr.LimitExceeded("total size exceeds the limit (%d > %d bytes)", a.counters.TotalBytes, a.limits.MaxTotalBytes)
		}
	}
	a.notify()
	a.mu.Unlock()
}

// ioFailure counts a file that could not be read or written as skipped.
func (a *accumulator) ioFailure() {
	a.mu.Lock()
	a.counters.Skipped++
	a.counters.TotalFiles++
	a.notify()
	a.mu.Unlock()
}

func (a *accumulator) emptyDir() {
	a.mu.Lock()
	a.counters.EmptyDirs++
	a.notify()
	a.mu.Unlock()
}

func (a *accumulator) fail(err error) {
	a.mu.Lock()
	if a.fatal == nil {
		a.fatal = err
	}
	a.mu.Unlock()
}

func (a *accumulator) failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal != nil
}

func (a *accumulator) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

func (a *accumulator) processed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.touched
}

func (a *accumulator) snapshot() task.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// notify runs under a.mu so observers see counters in order.
func (a *accumulator) notify() {
	if a.progress != nil {
		a.progress(a.counters)
	}
}
