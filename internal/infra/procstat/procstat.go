// Package procstat samples process state and resource usage of the running
// service.
package procstat

import (
	"runtime"
	"sync"
	"time"
)

// Sample is a point-in-time resource reading.
type Sample struct {
	HeapInUse uint64
	RSS       uint64
	// CPUPercent is the share of total CPU capacity used since the previous
	// sample, 0..100.
	CPUPercent float64
	At         time.Time
}

// Sampler turns cumulative CPU time into utilisation between calls.
type Sampler struct {
	mu      sync.Mutex
	lastCPU time.Duration
	lastAt  time.Time
	cpus    int
	cpuTime func() (time.Duration, error)
	rss     func() (uint64, error)
}

func NewSampler() *Sampler {
	return &Sampler{cpus: runtime.NumCPU(), cpuTime: CPUTime, rss: RSS}
}

// Sample reads current usage. The first call reports 0 % CPU.
func (s *Sampler) Sample(now time.Time) Sample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	out := Sample{HeapInUse: mem.HeapInuse, At: now}
	if rss, err := s.rss(); err == nil {
		out.RSS = rss
	}

	cpu, err := s.cpuTime()
	if err != nil {
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastAt.IsZero() {
		wall := now.Sub(s.lastAt)
		if wall > 0 && s.cpus > 0 {
			out.CPUPercent = 100 * float64(cpu-s.lastCPU) / (float64(wall) * float64(s.cpus))
			out.CPUPercent = min(max(out.CPUPercent, 0), 100)
		}
	}
	s.lastCPU = cpu
	s.lastAt = now
	return out
}

// Used returns the larger of heap in use and resident set size.
func (s Sample) Used() uint64 {
	return max(s.HeapInUse, s.RSS)
}
