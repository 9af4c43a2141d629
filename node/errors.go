package node

import "errors"

var (
	ErrNodeIDRequired        = errors.New("node ID is required")
	ErrNetworkIDRequired     = errors.New("network ID is required")
	ErrUnknownIdentity       = errors.New("node ID is not a mesh member")
	ErrMemberIDRequired      = errors.New("member ID is required")
	ErrDuplicateMember       = errors.New("duplicate mesh member")
	ErrAddressRequired       = errors.New("member address is required")
	ErrInvalidEpochInterval  = errors.New("epoch interval must be greater than 0")
	ErrInvalidPollInterval   = errors.New("poll interval must be greater than 0")
	ErrInvalidThreshold      = errors.New("convergence threshold must not be negative")
	ErrInvalidStableEpochs   = errors.New("stable epochs must be at least 1")
	ErrListenAddressRequired = errors.New("listen address is required for the grpc transport")
	ErrNodeNotFound          = errors.New("node not found")
	ErrAlreadyRunning        = errors.New("node is already running")
)
