package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOfWrapped(t *testing.T) {
	t.Parallel()

	base := NotFound("task not found: %s", "abc")
	wrapped := fmt.Errorf("status: %w", base)
	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("CodeOf() = %q, want %q", got, CodeNotFound)
	}
	if !Is(wrapped, CodeNotFound) {
		t.Fatalf("Is(wrapped, NOT_FOUND) = false")
	}
	if Is(errors.New("plain"), CodeNotFound) {
		t.Fatalf("plain error should not match")
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeInternal)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeSCMFailure, errors.New("exit status 1"), "git commit failed")
	if err.Error() != "git commit failed: exit status 1" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("expected unwrap to expose cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Code]int{
		CodeValidation:    http.StatusUnprocessableEntity,
		CodeNotFound:      http.StatusNotFound,
		CodeLimitExceeded: http.StatusBadRequest,
		CodeInternal:      http.StatusInternalServerError,
		Code("other"):     http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}
