//go:build unix

package procstat

import (
	"time"

	"golang.org/x/sys/unix"
)

// CPUTime returns user plus system time consumed by this process and its
// reaped children.
func CPUTime() (time.Duration, error) {
	var total time.Duration
	for _, who := range []int{unix.RUSAGE_SELF, unix.RUSAGE_CHILDREN} {
		var ru unix.Rusage
		if err := unix.Getrusage(who, &ru); err != nil {
			return 0, err
		}
		total += time.Duration(ru.Utime.Nano()) + time.Duration(ru.Stime.Nano())
	}
	return total, nil
}
