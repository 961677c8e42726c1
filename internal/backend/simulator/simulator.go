// Package simulator defines the interface of the transport between the
// discrete-event simulator and the network-server core.
package simulator

import (
	"github.com/brocaar/chirpstack-network-simulator/internal/events"
)

var backend Simulator

// Backend returns the simulator backend.
func Backend() Simulator {
	return backend
}

// SetBackend sets the given simulator backend.
func SetBackend(b Simulator) {
	backend = b
}

// Simulator is the interface of a simulator backend.
// A simulator backend delivers the ingress events and publishes the egress
// commands.
type Simulator interface {
	EventChan() chan events.Event     // channel containing the received events
	SendCommand(events.Command) error // publish the given command
	Close() error                     // close the simulator backend
}
