package gitcmd

import (
	"errors"
	"time"

	"github.com/tasuku43/gitpush/internal/apperr"
)

// Op classifies a git invocation for timeout selection.
type Op string

const (
	OpInit     Op = "init"
	OpClone    Op = "clone"
	OpFetch    Op = "fetch"
	OpPull     Op = "pull"
	OpPush     Op = "push"
	OpAdd      Op = "add"
	OpCommit   Op = "commit"
	OpCheckout Op = "checkout"
	OpClean    Op = "clean"
	OpReset    Op = "reset"
	OpDefault  Op = "default"
)

var ErrTimeout = errors.New("git command timed out")

// ErrorCode classifies a failed git command: timeouts are CodeTimeout,
// anything else CodeSCMFailure.
func ErrorCode(err error) apperr.Code {
	if errors.Is(err, ErrTimeout) {
		return apperr.CodeTimeout
	}
	return apperr.CodeSCMFailure
}

// Timeouts holds the ceiling for each operation. Missing entries fall back
// to OpDefault.
type Timeouts map[Op]time.Duration

func DefaultTimeouts() Timeouts {
	return Timeouts{
		OpInit:     30 * time.Second,
		OpClone:    300 * time.Second,
		OpFetch:    300 * time.Second,
		OpPull:     300 * time.Second,
		OpPush:     600 * time.Second,
		OpAdd:      120 * time.Second,
		OpCommit:   60 * time.Second,
		OpCheckout: 60 * time.Second,
		OpClean:    60 * time.Second,
		OpReset:    60 * time.Second,
		OpDefault:  60 * time.Second,
	}
}

func (t Timeouts) For(op Op) time.Duration {
	if d, ok := t[op]; ok && d > 0 {
		return d
	}
	if d, ok := t[OpDefault]; ok && d > 0 {
		return d
	}
	return 60 * time.Second
}

// Merge returns a copy of t with the positive entries of override applied.
func (t Timeouts) Merge(override Timeouts) Timeouts {
	out := make(Timeouts, len(t)+len(override))
	for op, d := range t {
		out[op] = d
	}
	for op, d := range override {
		if d > 0 {
			out[op] = d
		}
	}
	return out
}

func classify(args []string) Op {
	if len(args) == 0 {
		return OpDefault
	}
	switch args[0] {
	case "init":
		return OpInit
	case "clone":
		return OpClone
	case "fetch", "ls-remote":
		return OpFetch
	case "pull":
		return OpPull
	case "push":
		return OpPush
	case "add":
		return OpAdd
	case "commit":
		return OpCommit
	case "checkout", "symbolic-ref", "read-tree":
		return OpCheckout
	case "clean":
		return OpClean
	case "reset", "update-ref":
		return OpReset
	default:
		return OpDefault
	}
}

