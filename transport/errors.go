package transport

import "errors"

var (
	ErrUnknownPeer  = errors.New("unknown peer address")
	ErrUnreachable  = errors.New("no endpoint at address")
	ErrClosed       = errors.New("transport closed")
	ErrInvalidAddr  = errors.New("invalid address")
	ErrNotListening = errors.New("transport is not listening")
)
