package env

import "errors"

var (
	ErrNotExist    = errors.New("path does not exist")
	ErrEnvironment = errors.New("environment error")
	ErrClosed      = errors.New("environment closed")
)
