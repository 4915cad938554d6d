package build

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRunErrorExitCode(t *testing.T) {
	tests := []struct {
		failed    int
		cancelled bool
		want      int
	}{
		{failed: 1, want: 1},
		{failed: 3, want: 3},
		{failed: 125, want: 125},
		{failed: 300, want: 125},
		{failed: 0, cancelled: true, want: 1},
		{failed: 2, cancelled: true, want: 2},
	}

	for _, tt := range tests {
		var errs []*StageError
		for i := range tt.failed {
			errs = append(errs, &StageError{Stage: fmt.Sprintf("s%d", i), Err: ErrCommandFailed})
		}
		if got := newRunError(errs, tt.cancelled).ExitCode(); got != tt.want {
			t.Errorf("ExitCode(failed=%d, cancelled=%v) = %d, want %d", tt.failed, tt.cancelled, got, tt.want)
		}
	}
}

func TestRunErrorMessage(t *testing.T) {
	err := newRunError([]*StageError{
		{Stage: "build", Err: fmt.Errorf("%w: exit 1", ErrCommandFailed)},
		{Stage: "deploy", Err: ErrUpstreamFailure},
	}, false)

	msg := err.Error()
	if !strings.HasPrefix(msg, "2 stages failed") {
		t.Errorf("message = %q", msg)
	}
	for _, want := range []string{`stage "build"`, `stage "deploy"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %s", msg, want)
		}
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("uncancelled run matches ErrCancelled")
	}

	var se *StageError
	if !errors.As(err, &se) || se.Stage != "build" {
		t.Errorf("errors.As = %v", se)
	}
}

func TestRunErrorCancelled(t *testing.T) {
	err := newRunError(nil, true)
	if err.Error() != "build cancelled" {
		t.Errorf("message = %q", err.Error())
	}
	if !errors.Is(err, ErrCancelled) {
		t.Error("cancelled run does not match ErrCancelled")
	}
}

func TestStatusText(t *testing.T) {
	for s := Pending; s <= Cancelled; s++ {
		text, _ := s.MarshalText()
		var back Status
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("round trip of %v = %v, %v", s, back, err)
		}
	}
	if Status(42).String() != "status(42)" {
		t.Errorf("String(42) = %q", Status(42).String())
	}
}

func TestExitCodeOf(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d", got)
	}
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Errorf("ExitCode(plain) = %d", got)
	}
	wrapped := fmt.Errorf("building: %w", newRunError([]*StageError{{Stage: "a"}, {Stage: "b"}, {Stage: "c"}}, false))
	if got := ExitCode(wrapped); got != 3 {
		t.Errorf("ExitCode(wrapped run error) = %d", got)
	}
}
