package server

import "errors"

var (
	ErrServer   = errors.New("server error")
	ErrProtocol = errors.New("protocol error")
)
