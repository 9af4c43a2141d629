package gossip

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrForeignNetwork   = errors.New("message from foreign network")
	ErrEmptyQList       = errors.New("q list must not be empty")
	ErrInvalidQ         = errors.New("q values must be positive")
	ErrInvalidSeed      = errors.New("p must be positive")
)
