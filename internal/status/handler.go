package status

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/logging"
)

// HandleEvent applies the given event to the store. Events which are not
// handled by the store are ignored.
func (s *Store) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.DeviceRegistered:
		_, err := s.Register(e.Device.DevAddr, e.Device.MACPeer, e.Device.RX1DR, e.Device.RX1Frequency)
		return err
	case events.PacketReceivedAtServer:
		up := e.Uplink
		first, err := s.InsertReceivedPacket(up.DevAddr, up.Packet, up.GatewayID, e.Time, up.RXPower, up.ReceivedSpreadingFactor(), up.Frequency)
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"dev_addr":   up.DevAddr,
			"gateway_id": up.GatewayID,
			"packet_id":  up.Packet.ID,
			"first":      first,
			"ctx_id":     ctx.Value(logging.ContextIDKey),
		}).Debug("status: uplink received")
	}

	return nil
}
