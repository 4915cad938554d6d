package stage

import (
	"errors"
	"fmt"
)

var ErrInvalidDescriptor = errors.New("invalid stage descriptor")

// Describes why a stage descriptor was rejected.
//
// Matches [ErrInvalidDescriptor] with [errors.Is].
type Error struct {
	Stage  string // Identifier of the offending stage, possibly empty.
	Reason string // Human-readable cause.
}

// Returns the error message, including the stage identifier when known.
func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidDescriptor, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidDescriptor, e.Stage, e.Reason)
}

// Returns [ErrInvalidDescriptor].
func (e *Error) Unwrap() error {
	return ErrInvalidDescriptor
}

// Creates an [Error] for the given stage with a formatted reason.
func invalidf(stage, format string, args ...any) error {
	return &Error{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}
