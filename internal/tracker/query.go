package tracker

import (
	"fmt"
	"time"

	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/lorawan"
)

// GatewayCounters holds the outcome counters of a single gateway.
type GatewayCounters struct {
	Sent             int
	Received         int
	Interfered       int
	NoMoreReceivers  int
	UnderSensitivity int
	LostBecauseTx    int
}

// String returns the counters space separated, in field order.
func (c GatewayCounters) String() string {
	return fmt.Sprintf("%d %d %d %d %d %d", c.Sent, c.Received, c.Interfered, c.NoMoreReceivers, c.UnderSensitivity, c.LostBecauseTx)
}

// CountOutcomesPerGateway returns the outcome counters for the given gateway
// over the packets sent within [start, end]. Sent counts every packet in the
// interval, whether or not the gateway recorded an outcome for it.
func (t *Tracker) CountOutcomesPerGateway(start, end time.Duration, gatewayID lorawan.EUI64) GatewayCounters {
	var out GatewayCounters

	for _, r := range t.phy {
		if r.SendTime < start || r.SendTime > end {
			continue
		}

		out.Sent++

		switch r.Outcomes[gatewayID] {
		case models.Received:
			out.Received++
		case models.Interfered:
			out.Interfered++
		case models.NoMoreReceivers:
			out.NoMoreReceivers++
		case models.UnderSensitivity:
			out.UnderSensitivity++
		case models.LostBecauseTx:
			out.LostBecauseTx++
		}
	}

	return out
}

// GlobalMACDeliveryRatio returns the number of MAC packets sent within
// [start, end] and how many of these were received by at least one gateway.
func (t *Tracker) GlobalMACDeliveryRatio(start, end time.Duration) (sent, received int) {
	for _, m := range t.mac {
		if m.SendTime < start || m.SendTime > end {
			continue
		}

		sent++
		if len(m.ReceptionTimes) > 0 {
			received++
		}
	}
	return
}

// RetransmissionDeliveryRatio returns the number of transmission cycles
// started within [start, end] and how many of these succeeded.
func (t *Tracker) RetransmissionDeliveryRatio(start, end time.Duration) (sent, received int) {
	for _, r := range t.retransmissions {
		if r.FirstAttempt < start || r.FirstAttempt > end {
			continue
		}

		sent++
		if r.Succeeded {
			received++
		}
	}
	return
}

// DevicePacketCounts returns the number of MAC packets the given sender sent
// within [start, end] and how many of these were received.
func (t *Tracker) DevicePacketCounts(start, end time.Duration, senderID uint32) (sent, received int) {
	for _, m := range t.mac {
		if m.Packet.SenderID != senderID || m.SendTime < start || m.SendTime > end {
			continue
		}

		sent++
		if len(m.ReceptionTimes) > 0 {
			received++
		}
	}
	return
}
