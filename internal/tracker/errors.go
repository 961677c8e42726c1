package tracker

import "github.com/pkg/errors"

// Tracker errors.
var (
	// ErrUnknownPacket is returned when an event refers to a packet that was
	// never recorded as transmitted. This indicates a wiring fault upstream.
	ErrUnknownPacket = errors.New("packet not found in tracker")

	// ErrInconsistentPacket is returned when a packet identity is recorded
	// twice with different properties.
	ErrInconsistentPacket = errors.New("packet already recorded with different properties")

	ErrDuplicateOutcome = errors.New("outcome already recorded for gateway")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrNoTraffic        = errors.New("no packets sent in interval")
	ErrInvalidInterval  = errors.New("statistics start must be before now")
)
