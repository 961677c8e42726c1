// Package events defines the ingress events consumed by the simulator core
// and the egress commands it emits, together with their JSON wire format.
package events

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/lorawan"
)

// ErrInvalidEvent is returned when an event does not carry the payload
// required by its type.
var ErrInvalidEvent = errors.New("invalid event")

// Type defines the event type.
type Type string

// Event types.
const (
	TransmissionStarted    Type = "transmission_started"
	MACTransmissionStarted Type = "mac_transmission_started"
	ReceptionOutcome       Type = "reception_outcome"
	MACReception           Type = "mac_reception"
	RetransmissionFinished Type = "retransmission_finished"
	DeviceRegistered       Type = "device_registered"
	PacketReceivedAtServer Type = "packet_received_at_server"
	ReceiveWindowOpened    Type = "receive_window_opened"
)

// Event is a single ingress event. Only the payload matching Type is set.
type Event struct {
	Type Type `json:"type"`
	// Time is the simulation time at which the event happened.
	Time time.Duration `json:"time"`

	Transmission   *Transmission   `json:"transmission,omitempty"`
	Reception      *Reception      `json:"reception,omitempty"`
	Retransmission *Retransmission `json:"retransmission,omitempty"`
	Device         *Device         `json:"device,omitempty"`
	Uplink         *Uplink         `json:"uplink,omitempty"`
	ReceiveWindow  *ReceiveWindow  `json:"receiveWindow,omitempty"`
}

// Transmission is the payload of the (MAC) transmission-started events.
type Transmission struct {
	Packet models.Packet `json:"packet"`
}

// Reception is the payload of the reception-outcome and MAC reception
// events. Outcome is ignored for MAC receptions.
type Reception struct {
	PacketID  models.PacketID `json:"packetID"`
	GatewayID lorawan.EUI64   `json:"gatewayID"`
	Outcome   models.Outcome  `json:"outcome"`
}

// Retransmission is the payload of the retransmission-finished event.
type Retransmission struct {
	PacketID     models.PacketID `json:"packetID"`
	FirstAttempt time.Duration   `json:"firstAttempt"`
	Attempts     uint8           `json:"attempts"`
	Succeeded    bool            `json:"succeeded"`
}

// Device is the payload of the device-registered event.
type Device struct {
	DevAddr      lorawan.DevAddr `json:"devAddr"`
	MACPeer      uint32          `json:"macPeer"`
	RX1DR        int             `json:"rx1DR"`
	RX1Frequency uint32          `json:"rx1Frequency"`
}

// Uplink is the payload of the packet-received-at-server event.
// SpreadingFactor is the spreading-factor the gateway received the packet
// on. When omitted, the spreading-factor of the packet is used.
type Uplink struct {
	Packet          models.Packet   `json:"packet"`
	DevAddr         lorawan.DevAddr `json:"devAddr"`
	GatewayID       lorawan.EUI64   `json:"gatewayID"`
	RXPower         float64         `json:"rxPower"`
	SpreadingFactor int             `json:"spreadingFactor,omitempty"`
	Frequency       uint32          `json:"frequency"`
	Confirmed       bool            `json:"confirmed"`
	LinkCheckReq    bool            `json:"linkCheckReq"`
}

// ReceivedSpreadingFactor returns the spreading-factor the packet was
// received on.
func (u Uplink) ReceivedSpreadingFactor() int {
	if u.SpreadingFactor != 0 {
		return u.SpreadingFactor
	}
	return u.Packet.SpreadingFactor
}

// ReceiveWindow is the payload of the receive-window-opened event.
type ReceiveWindow struct {
	DevAddr  lorawan.DevAddr `json:"devAddr"`
	HandleID uuid.UUID       `json:"handleID"`
}

// Validate returns ErrInvalidEvent when the payload for the event type is
// missing or the type is unknown.
func (e Event) Validate() error {
	var ok bool

	switch e.Type {
	case TransmissionStarted, MACTransmissionStarted:
		ok = e.Transmission != nil
	case ReceptionOutcome, MACReception:
		ok = e.Reception != nil
	case RetransmissionFinished:
		ok = e.Retransmission != nil
	case DeviceRegistered:
		ok = e.Device != nil
	case PacketReceivedAtServer:
		ok = e.Uplink != nil
	case ReceiveWindowOpened:
		ok = e.ReceiveWindow != nil
	default:
		return errors.Wrapf(ErrInvalidEvent, "unknown event type: %s", e.Type)
	}

	if !ok {
		return errors.Wrapf(ErrInvalidEvent, "missing payload for event type: %s", e.Type)
	}
	return nil
}

// PacketID returns the identity of the packet the event refers to. The
// second return value is false for events which are not packet bound.
func (e Event) PacketID() (models.PacketID, bool) {
	switch {
	case e.Transmission != nil:
		return e.Transmission.Packet.ID, true
	case e.Reception != nil:
		return e.Reception.PacketID, true
	case e.Retransmission != nil:
		return e.Retransmission.PacketID, true
	case e.Uplink != nil:
		return e.Uplink.Packet.ID, true
	}
	return 0, false
}

// UnmarshalEvent decodes and validates the given JSON event.
func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return e, errors.Wrap(err, "unmarshal json error")
	}
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

// MarshalEvent encodes the given event as JSON.
func MarshalEvent(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
