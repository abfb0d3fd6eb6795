package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Initial: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, Initial: time.Millisecond}, func(context.Context) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	if !errors.Is(err, errFlaky) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 5, Initial: time.Hour}, func(context.Context) error {
		return errFlaky
	})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errFlaky) {
		t.Fatalf("err=%v", err)
	}
}

func TestPolicyNextCaps(t *testing.T) {
	t.Parallel()

	p := Policy{Multiplier: 10, Max: time.Second}
	if got := p.next(500 * time.Millisecond); got != time.Second {
		t.Fatalf("next = %s", got)
	}
	if got := (Policy{}).next(time.Second); got != time.Second {
		t.Fatalf("zero multiplier next = %s", got)
	}
}
