package tracker

import (
	"context"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
)

// HandleEvent records the given event. Events which are not handled by the
// tracker are ignored.
func (t *Tracker) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.TransmissionStarted:
		return t.RecordTransmission(e.Transmission.Packet, e.Time)
	case events.MACTransmissionStarted:
		return t.RecordMACTransmission(e.Transmission.Packet, e.Time)
	case events.ReceptionOutcome:
		return t.RecordOutcome(e.Reception.PacketID, e.Reception.GatewayID, e.Reception.Outcome, e.Time)
	case events.MACReception:
		return t.RecordMACReception(e.Reception.PacketID, e.Reception.GatewayID, e.Time)
	case events.RetransmissionFinished:
		t.RecordRetransmissionOutcome(RetransmissionRecord{
			PacketID:     e.Retransmission.PacketID,
			FirstAttempt: e.Retransmission.FirstAttempt,
			FinishTime:   e.Time,
			Attempts:     e.Retransmission.Attempts,
			Succeeded:    e.Retransmission.Succeeded,
		})
	}

	return nil
}
