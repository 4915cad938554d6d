package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCyclicDependency      = errors.New("cyclic dependency")
	ErrUnknownPredecessor    = errors.New("unknown predecessor")
	ErrDuplicateArtifactName = errors.New("duplicate artifact name")
)

// Names the stages that form a dependency cycle.
//
// Matches [ErrCyclicDependency] with [errors.Is].
type CycleError struct {
	Members []string // Stages on the cycle, first member repeated at the end.
}

// Returns the error message with the cycle path.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Members, " -> "))
}

// Returns [ErrCyclicDependency].
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
