//go:build !unix

package procstat

import (
	"errors"
	"time"
)

func CPUTime() (time.Duration, error) {
	return 0, errors.ErrUnsupported
}
