package status

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/lorawan"
)

// Reply holds the downlink under construction for a device.
type Reply struct {
	MACHeader   lorawan.MHDR
	FrameHeader lorawan.FHDR
	Payload     []byte
	NeedsReply  bool
}

// InitializeReply resets the reply of the given device.
func (s *Store) InitializeReply(devAddr lorawan.DevAddr) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.reply = Reply{}
	return nil
}

// SetReplyPayload sets the reply payload. A non-empty payload marks the
// reply as needed.
func (s *Store) SetReplyPayload(devAddr lorawan.DevAddr, payload []byte) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}

	ds.reply.Payload = make([]byte, len(payload))
	copy(ds.reply.Payload, payload)
	if len(payload) > 0 {
		ds.reply.NeedsReply = true
	}
	return nil
}

// SetReplyMACHeader sets the reply mac header and marks the reply as needed.
func (s *Store) SetReplyMACHeader(devAddr lorawan.DevAddr, mhdr lorawan.MHDR) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.reply.MACHeader = mhdr
	ds.reply.NeedsReply = true
	return nil
}

// SetReplyFrameHeader sets the reply frame header and marks the reply as
// needed.
func (s *Store) SetReplyFrameHeader(devAddr lorawan.DevAddr, fhdr lorawan.FHDR) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.reply.FrameHeader = fhdr
	ds.reply.NeedsReply = true
	return nil
}

// GetReply returns a copy of the reply of the given device.
func (s *Store) GetReply(devAddr lorawan.DevAddr) (Reply, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return Reply{}, err
	}

	out := ds.reply
	if ds.reply.Payload != nil {
		out.Payload = make([]byte, len(ds.reply.Payload))
		copy(out.Payload, ds.reply.Payload)
	}
	return out, nil
}

// NeedsReply returns true when a reply has been staged for the device.
func (s *Store) NeedsReply(devAddr lorawan.DevAddr) (bool, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return false, err
	}
	return ds.reply.NeedsReply, nil
}

// CompleteReply returns the reply bytes: the mac header, followed by the
// frame header and the payload.
func (s *Store) CompleteReply(devAddr lorawan.DevAddr) ([]byte, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return nil, err
	}

	mhdr, fhdr, err := marshalHeaders(ds.reply)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(mhdr)+len(fhdr)+len(ds.reply.Payload))
	out = append(out, mhdr...)
	out = append(out, fhdr...)
	out = append(out, ds.reply.Payload...)
	return out, nil
}

// StageReply emits the StageReply command for the reply of the given device,
// to be transmitted by the given gateway in the first receive-window. The
// reply is reset afterwards.
func (s *Store) StageReply(devAddr lorawan.DevAddr, gatewayID lorawan.EUI64) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}

	if !ds.reply.NeedsReply {
		return errors.Wrapf(ErrNoReplyNeeded, "dev_addr %s", devAddr)
	}

	mhdr, fhdr, err := marshalHeaders(ds.reply)
	if err != nil {
		return err
	}

	err = s.egress.SendCommand(events.Command{
		Type:    events.StageReply,
		DevAddr: devAddr,
		Reply: &events.Reply{
			MACHeader:   mhdr,
			FrameHeader: fhdr,
			Payload:     ds.reply.Payload,
			GatewayID:   gatewayID,
			DR:          ds.RX1DR,
			Frequency:   ds.RX1Frequency,
		},
	})
	if err != nil {
		return errors.Wrap(err, "send stage reply command error")
	}

	log.WithFields(log.Fields{
		"dev_addr":   devAddr,
		"gateway_id": gatewayID,
		"dr":         ds.RX1DR,
		"frequency":  ds.RX1Frequency,
	}).Info("status: reply staged")

	ds.reply = Reply{}
	return nil
}

func marshalHeaders(r Reply) ([]byte, []byte, error) {
	mhdr, err := r.MACHeader.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal mac header error")
	}

	fhdr, err := r.FrameHeader.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal frame header error")
	}

	return mhdr, fhdr, nil
}
