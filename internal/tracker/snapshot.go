package tracker

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
)

// Snapshot returns a deep copy of the tracker state.
func (t *Tracker) Snapshot() *Tracker {
	out := New(t.profile)

	for id, r := range t.phy {
		c := r.copy()
		out.phy[id] = &c
	}
	for id, m := range t.mac {
		c := m.copy()
		out.mac[id] = &c
	}
	for k, r := range t.retransmissions {
		out.retransmissions[k] = r
	}

	return out
}

// Merge returns a new tracker holding the records of all given trackers.
// The trackers must hold disjoint sets of packets.
func Merge(profile phy.TXParams, trackers ...*Tracker) (*Tracker, error) {
	out := New(profile)

	for _, t := range trackers {
		for id, r := range t.phy {
			if _, ok := out.phy[id]; ok {
				return nil, errors.Wrapf(ErrInconsistentPacket, "packet %d in multiple partitions", id)
			}
			c := r.copy()
			out.phy[id] = &c
		}
		for id, m := range t.mac {
			if _, ok := out.mac[id]; ok {
				return nil, errors.Wrapf(ErrInconsistentPacket, "packet %d in multiple partitions", id)
			}
			c := m.copy()
			out.mac[id] = &c
		}
		for k, r := range t.retransmissions {
			out.retransmissions[k] = r
		}
	}

	return out, nil
}
