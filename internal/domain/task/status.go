package task

import "fmt"

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusError, StatusCanceled:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCanceled},
	StatusRunning: {StatusDone, StatusError, StatusCanceled},
}

// Transition validates a status change. Terminal states are final.
func Transition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", from, to)
}
