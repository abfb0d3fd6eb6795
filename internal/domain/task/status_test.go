package task

import "testing"

func TestTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCanceled, true},
		{StatusPending, StatusDone, false},
		{StatusRunning, StatusDone, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusCanceled, true},
		{StatusRunning, StatusPending, false},
		{StatusDone, StatusRunning, false},
		{StatusError, StatusCanceled, false},
		{StatusCanceled, StatusDone, false},
		{StatusRunning, Status("paused"), false},
	}
	for _, tc := range cases {
		err := Transition(tc.from, tc.to)
		if (err == nil) != tc.ok {
			t.Fatalf("Transition(%s, %s) error = %v, want ok=%v", tc.from, tc.to, err, tc.ok)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusDone, StatusError, StatusCanceled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
