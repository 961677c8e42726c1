// Package tracker records the outcome of every transmitted packet at every
// gateway and derives the network-wide delivery statistics from it.
package tracker

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
	"github.com/brocaar/lorawan"
)

var packetIDSeq uint64

// NewPacketID returns a new packet identity. Identities are unique within
// the process.
func NewPacketID() models.PacketID {
	return models.PacketID(atomic.AddUint64(&packetIDSeq, 1))
}

// PhyPacketRecord holds the per-gateway reception outcomes of a packet.
type PhyPacketRecord struct {
	Packet   models.Packet
	SendTime time.Duration
	Outcomes map[lorawan.EUI64]models.Outcome
}

// MACPacketRecord holds the MAC layer view of a packet. ReceivedTime is the
// earliest of ReceptionTimes, or models.Never when there are none.
type MACPacketRecord struct {
	Packet         models.Packet
	SendTime       time.Duration
	ReceivedTime   time.Duration
	ReceptionTimes map[lorawan.EUI64]time.Duration
}

// RetransmissionRecord holds the result of a confirmed-packet transmission
// cycle.
type RetransmissionRecord struct {
	PacketID     models.PacketID
	FirstAttempt time.Duration
	FinishTime   time.Duration
	Attempts     uint8
	Succeeded    bool
}

type retransmissionKey struct {
	packetID     models.PacketID
	firstAttempt time.Duration
}

// Tracker is the packet outcome tracker. It is not safe for concurrent use;
// see the shard package for a partitioned variant.
type Tracker struct {
	profile         phy.TXParams
	phy             map[models.PacketID]*PhyPacketRecord
	mac             map[models.PacketID]*MACPacketRecord
	retransmissions map[retransmissionKey]RetransmissionRecord
}

// New creates a new Tracker. The given profile is used for the time-on-air
// computation of the offered traffic (the spreading-factor is taken from
// each packet).
func New(profile phy.TXParams) *Tracker {
	return &Tracker{
		profile:         profile,
		phy:             make(map[models.PacketID]*PhyPacketRecord),
		mac:             make(map[models.PacketID]*MACPacketRecord),
		retransmissions: make(map[retransmissionKey]RetransmissionRecord),
	}
}

// RecordTransmission records the PHY transmission of the given packet.
// Recording the same packet twice is a no-op.
func (t *Tracker) RecordTransmission(pkt models.Packet, at time.Duration) error {
	if r, ok := t.phy[pkt.ID]; ok {
		if r.Packet != pkt || r.SendTime != at {
			return errors.Wrapf(ErrInconsistentPacket, "packet %d", pkt.ID)
		}
		return nil
	}

	t.phy[pkt.ID] = &PhyPacketRecord{
		Packet:   pkt,
		SendTime: at,
		Outcomes: make(map[lorawan.EUI64]models.Outcome),
	}
	transmissionCounter("phy").Inc()

	log.WithFields(log.Fields{
		"packet_id": pkt.ID,
		"sender_id": pkt.SenderID,
		"time":      at,
	}).Debug("tracker: phy transmission recorded")

	return nil
}

// RecordMACTransmission records the MAC transmission of the given packet.
// Recording the same packet twice is a no-op.
func (t *Tracker) RecordMACTransmission(pkt models.Packet, at time.Duration) error {
	if r, ok := t.mac[pkt.ID]; ok {
		if r.Packet != pkt || r.SendTime != at {
			return errors.Wrapf(ErrInconsistentPacket, "packet %d", pkt.ID)
		}
		return nil
	}

	t.mac[pkt.ID] = &MACPacketRecord{
		Packet:         pkt,
		SendTime:       at,
		ReceivedTime:   models.Never,
		ReceptionTimes: make(map[lorawan.EUI64]time.Duration),
	}
	transmissionCounter("mac").Inc()

	log.WithFields(log.Fields{
		"packet_id": pkt.ID,
		"sender_id": pkt.SenderID,
		"time":      at,
	}).Debug("tracker: mac transmission recorded")

	return nil
}

// RecordOutcome records the outcome of the reception attempt of the given
// packet at the given gateway. An outcome can be recorded only once per
// gateway. A Received outcome is also recorded as MAC reception when the
// packet is known at the MAC layer.
func (t *Tracker) RecordOutcome(id models.PacketID, gatewayID lorawan.EUI64, outcome models.Outcome, at time.Duration) error {
	if outcome <= models.Unset || outcome > models.LostBecauseTx {
		return errors.Wrapf(ErrInvalidOutcome, "outcome %s", outcome)
	}

	r, ok := t.phy[id]
	if !ok {
		unknownPacketCounter().Inc()
		return errors.Wrapf(ErrUnknownPacket, "packet %d", id)
	}

	if _, ok := r.Outcomes[gatewayID]; ok {
		duplicateOutcomeCounter().Inc()
		return errors.Wrapf(ErrDuplicateOutcome, "packet %d, gateway %s", id, gatewayID)
	}

	r.Outcomes[gatewayID] = outcome
	outcomeCounter(outcome.String()).Inc()

	if outcome == models.Received {
		if m, ok := t.mac[id]; ok {
			m.addReception(gatewayID, at)
		}
	}

	log.WithFields(log.Fields{
		"packet_id":  id,
		"gateway_id": gatewayID,
		"outcome":    outcome,
	}).Debug("tracker: outcome recorded")

	return nil
}

// RecordMACReception records the reception of the given packet by the MAC
// layer of the given gateway.
func (t *Tracker) RecordMACReception(id models.PacketID, gatewayID lorawan.EUI64, at time.Duration) error {
	m, ok := t.mac[id]
	if !ok {
		unknownPacketCounter().Inc()
		return errors.Wrapf(ErrUnknownPacket, "packet %d", id)
	}

	m.addReception(gatewayID, at)
	return nil
}

// RecordRetransmissionOutcome records the result of a transmission cycle.
// Records are keyed by packet and first attempt; re-recording is a no-op.
func (t *Tracker) RecordRetransmissionOutcome(r RetransmissionRecord) {
	key := retransmissionKey{packetID: r.PacketID, firstAttempt: r.FirstAttempt}
	if _, ok := t.retransmissions[key]; ok {
		log.WithFields(log.Fields{
			"packet_id":     r.PacketID,
			"first_attempt": r.FirstAttempt,
		}).Debug("tracker: retransmission outcome already recorded")
		return
	}

	t.retransmissions[key] = r
}

// PhyPacket returns a copy of the PHY record of the given packet.
func (t *Tracker) PhyPacket(id models.PacketID) (PhyPacketRecord, error) {
	r, ok := t.phy[id]
	if !ok {
		return PhyPacketRecord{}, errors.Wrapf(ErrUnknownPacket, "packet %d", id)
	}
	return r.copy(), nil
}

// MACPacket returns a copy of the MAC record of the given packet.
func (t *Tracker) MACPacket(id models.PacketID) (MACPacketRecord, error) {
	m, ok := t.mac[id]
	if !ok {
		return MACPacketRecord{}, errors.Wrapf(ErrUnknownPacket, "packet %d", id)
	}
	return m.copy(), nil
}

func (m *MACPacketRecord) addReception(gatewayID lorawan.EUI64, at time.Duration) {
	if prev, ok := m.ReceptionTimes[gatewayID]; !ok || at < prev {
		m.ReceptionTimes[gatewayID] = at
	}
	if at < m.ReceivedTime {
		m.ReceivedTime = at
	}
}

func (r *PhyPacketRecord) copy() PhyPacketRecord {
	out := *r
	out.Outcomes = make(map[lorawan.EUI64]models.Outcome, len(r.Outcomes))
	for k, v := range r.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

func (m *MACPacketRecord) copy() MACPacketRecord {
	out := *m
	out.ReceptionTimes = make(map[lorawan.EUI64]time.Duration, len(m.ReceptionTimes))
	for k, v := range m.ReceptionTimes {
		out.ReceptionTimes[k] = v
	}
	return out
}
