package status

import "github.com/pkg/errors"

// Store errors.
var (
	ErrAlreadyRegistered = errors.New("device already registered")
	ErrDoesNotExist      = errors.New("device does not exist")
	ErrNoPacketsYet      = errors.New("no packets received from device yet")
	ErrAlreadyScheduled  = errors.New("receive window already scheduled")
	ErrNoReplyNeeded     = errors.New("no reply staged for device")
)
