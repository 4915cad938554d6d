package image

import "errors"

var (
	ErrMissingEntrypoint = errors.New("missing entrypoint")
	ErrInvalidPort       = errors.New("invalid port")
	ErrImage             = errors.New("image emission failed")
)
