//go:build !linux

package procstat

import "errors"

func State(pid int) (byte, error) {
	return 0, errors.ErrUnsupported
}

func IsZombie(pid int) bool {
	return false
}

func RSS() (uint64, error) {
	return 0, errors.ErrUnsupported
}
