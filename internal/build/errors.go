package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrCommandFailed    = errors.New("command failed")
	ErrCancelled        = errors.New("cancelled")
	ErrEnvironment      = errors.New("environment failure")
)

// Failure of a single stage.
type StageError struct {
	Stage string // Identifier of the failed stage.
	Err   error  // Cause, wrapping one of the package sentinels.
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Aggregate error of a run that did not complete successfully.
//
// Lists every failed stage in topological order. Cancelled runs also match
// [ErrCancelled].
type RunError struct {
	Failed    []string // Identifiers of failed stages.
	Cancelled bool     // Whether the run was cancelled.
	errs      *multierror.Error
}

// Creates a [RunError] from the stage errors of a run.
func newRunError(errs []*StageError, cancelled bool) *RunError {
	re := &RunError{Cancelled: cancelled}
	for _, err := range errs {
		re.Failed = append(re.Failed, err.Stage)
		re.errs = multierror.Append(re.errs, err)
	}
	if cancelled {
		re.errs = multierror.Append(re.errs, ErrCancelled)
	}
	re.errs.ErrorFormat = formatErrors
	return re
}

func (e *RunError) Error() string {
	return e.errs.Error()
}

// Returns the individual stage errors, plus [ErrCancelled] for cancelled
// runs.
func (e *RunError) Unwrap() []error {
	return e.errs.WrappedErrors()
}

// Returns the process exit code for the run.
//
// The code is the number of failed stages, capped at 125 so it cannot be
// confused with shell-reserved codes. Runs with no failed stage (cancelled
// before anything failed) exit with 1.
func (e *RunError) ExitCode() int {
	switch n := len(e.Failed); {
	case n == 0:
		return 1
	case n > 125:
		return 125
	default:
		return n
	}
}

// Returns the process exit code for the outcome of a run.
//
// Zero for a nil error, [RunError.ExitCode] for a run error and 1 for any
// other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.ExitCode()
	}
	return 1
}

// Formats the aggregate as a one-line summary followed by one line per
// error.
func formatErrors(errs []error) string {
	var b strings.Builder

	failed := len(errs)
	if len(errs) > 0 && errs[len(errs)-1] == ErrCancelled {
		failed--
	}

	switch {
	case failed == 0:
		b.WriteString("build cancelled")
	case failed == 1:
		b.WriteString("1 stage failed")
	default:
		fmt.Fprintf(&b, "%d stages failed", failed)
	}

	for _, err := range errs {
		if err == ErrCancelled {
			continue
		}
		b.WriteString("\n  * ")
		b.WriteString(err.Error())
	}
	return b.String()
}
