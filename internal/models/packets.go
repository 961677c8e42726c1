package models

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brocaar/lorawan"
)

// Never is the simulation time used for events that did not happen.
const Never = time.Duration(math.MaxInt64)

// PacketID identifies a transmitted packet. It is assigned once at the first
// transmission and is carried by every copy of the packet.
type PacketID uint64

// Packet holds the properties of a transmitted packet which are relevant
// to the network-server side of the simulation.
type Packet struct {
	ID              PacketID `json:"id"`
	SenderID        uint32   `json:"senderID"`
	Size            int      `json:"size"`
	SpreadingFactor int      `json:"spreadingFactor"`
}

// Outcome defines the disposition of a single reception attempt.
type Outcome int

// Possible reception outcomes.
const (
	Unset Outcome = iota
	Received
	Interfered
	NoMoreReceivers
	UnderSensitivity
	LostBecauseTx
)

var outcomeNames = map[Outcome]string{
	Unset:            "UNSET",
	Received:         "RECEIVED",
	Interfered:       "INTERFERED",
	NoMoreReceivers:  "NO_MORE_RECEIVERS",
	UnderSensitivity: "UNDER_SENSITIVITY",
	LostBecauseTx:    "LOST_BECAUSE_TX",
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if _, ok := outcomeNames[o]; !ok {
		return nil, fmt.Errorf("unknown outcome: %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	s := strings.ToUpper(string(text))
	for k, v := range outcomeNames {
		if v == s {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome: %s", text)
}

// GatewayPower holds the most recent reception power of a device uplink
// at a gateway.
type GatewayPower struct {
	GatewayID lorawan.EUI64
	RXPower   float64
	Time      time.Duration
}

// ByPower implements sort.Interface for []GatewayPower, strongest
// signal first. Equal powers are ordered by gateway ID.
type ByPower []GatewayPower

func (s ByPower) Len() int {
	return len(s)
}

func (s ByPower) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s ByPower) Less(i, j int) bool {
	if s[i].RXPower == s[j].RXPower {
		return bytes.Compare(s[i].GatewayID[:], s[j].GatewayID[:]) < 0
	}
	return s[i].RXPower > s[j].RXPower
}
