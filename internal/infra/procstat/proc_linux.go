package procstat

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// State returns the single letter state of pid from /proc (R, S, D, Z, ...).
func State(pid int) (byte, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	return parseState(string(data))
}

func parseState(stat string) (byte, error) {
	// the command name may contain spaces and parentheses
	end := strings.LastIndexByte(stat, ')')
	if end < 0 || end+2 >= len(stat) {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(stat[end+1:])
	if len(fields) == 0 || len(fields[0]) != 1 {
		return 0, fmt.Errorf("malformed stat line")
	}
	return fields[0][0], nil
}

// IsZombie reports whether pid has exited but not been reaped.
func IsZombie(pid int) bool {
	state, err := State(pid)
	return err == nil && state == 'Z'
}

// RSS returns the resident set size of the current process in bytes.
func RSS() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	return parseStatm(string(data), uint64(unix.Getpagesize()))
}

func parseStatm(statm string, pageSize uint64) (uint64, error) {
	fields := strings.Fields(statm)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm")
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse statm: %w", err)
	}
	return pages * pageSize, nil
}
