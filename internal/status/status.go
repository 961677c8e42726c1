// Package status implements the end-device status store of the network
// server: per device receive-window parameters, the reply under
// construction, the pending mac-commands, the received packets and the
// pending receive-window opportunity.
package status

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/lorawan"
)

// Egress receives the commands emitted by the store.
type Egress interface {
	SendCommand(events.Command) error
}

// GatewayReception holds the reception of a packet by a single gateway.
type GatewayReception struct {
	Time    time.Duration
	RXPower float64
}

// ReceivedPacketInfo holds the reception metadata of a device uplink.
type ReceivedPacketInfo struct {
	Gateways        map[lorawan.EUI64]GatewayReception
	SpreadingFactor int
	Frequency       uint32
}

type receivedPacket struct {
	packet models.Packet
	info   ReceivedPacketInfo
	copies int
}

// DeviceStatus holds the network-server state of a single device.
type DeviceStatus struct {
	DevAddr lorawan.DevAddr
	// MACPeer is the node ID of the device MAC layer. It is only used as
	// lookup key and is never dereferenced by the store.
	MACPeer uint32

	RX1DR        int
	RX1Frequency uint32
	RX2DR        int
	RX2Frequency uint32

	reply         Reply
	macCommands   []lorawan.MACCommand
	received      []receivedPacket
	receivedIndex map[models.PacketID]int
	window        *events.WindowHandle
}

// Store holds the status of all registered devices. It is not safe for
// concurrent use.
type Store struct {
	rx2DR        int
	rx2Frequency uint32
	egress       Egress
	devices      map[lorawan.DevAddr]*DeviceStatus
}

// NewStore creates a new Store. The RX2 parameters are the defaults
// assigned to newly registered devices.
func NewStore(rx2DR int, rx2Frequency uint32, egress Egress) *Store {
	return &Store{
		rx2DR:        rx2DR,
		rx2Frequency: rx2Frequency,
		egress:       egress,
		devices:      make(map[lorawan.DevAddr]*DeviceStatus),
	}
}

// Register registers a new device.
func (s *Store) Register(devAddr lorawan.DevAddr, macPeer uint32, rx1DR int, rx1Frequency uint32) (DeviceStatus, error) {
	if _, ok := s.devices[devAddr]; ok {
		return DeviceStatus{}, errors.Wrapf(ErrAlreadyRegistered, "dev_addr %s", devAddr)
	}

	ds := &DeviceStatus{
		DevAddr:       devAddr,
		MACPeer:       macPeer,
		RX1DR:         rx1DR,
		RX1Frequency:  rx1Frequency,
		RX2DR:         s.rx2DR,
		RX2Frequency:  s.rx2Frequency,
		receivedIndex: make(map[models.PacketID]int),
	}
	s.devices[devAddr] = ds
	deviceGauge().Inc()

	log.WithFields(log.Fields{
		"dev_addr": devAddr,
		"mac_peer": macPeer,
	}).Info("status: device registered")

	return *ds, nil
}

// Get returns the status of the given device.
func (s *Store) Get(devAddr lorawan.DevAddr) (DeviceStatus, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return DeviceStatus{}, err
	}
	return *ds, nil
}

// Count returns the number of registered devices.
func (s *Store) Count() int {
	return len(s.devices)
}

// SetRX1Parameters sets the first receive-window data-rate and frequency.
func (s *Store) SetRX1Parameters(devAddr lorawan.DevAddr, dr int, frequency uint32) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.RX1DR = dr
	ds.RX1Frequency = frequency
	return nil
}

// SetRX2Parameters sets the second receive-window data-rate and frequency.
func (s *Store) SetRX2Parameters(devAddr lorawan.DevAddr, dr int, frequency uint32) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.RX2DR = dr
	ds.RX2Frequency = frequency
	return nil
}

// InsertReceivedPacket records the reception of the given packet by the
// given gateway, with the spreading-factor it was received on. Receptions of
// the same packet by multiple gateways are merged into a single entry, the
// spreading-factor and frequency of the first reception are kept. It returns
// true when this is the first reception of the packet.
func (s *Store) InsertReceivedPacket(devAddr lorawan.DevAddr, pkt models.Packet, gatewayID lorawan.EUI64, at time.Duration, rxPower float64, sf int, frequency uint32) (bool, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return false, err
	}

	rec := GatewayReception{Time: at, RXPower: rxPower}

	if i, ok := ds.receivedIndex[pkt.ID]; ok {
		ds.received[i].info.Gateways[gatewayID] = rec
		ds.received[i].copies++
		return false, nil
	}

	ds.receivedIndex[pkt.ID] = len(ds.received)
	ds.received = append(ds.received, receivedPacket{
		packet: pkt,
		info: ReceivedPacketInfo{
			Gateways:        map[lorawan.EUI64]GatewayReception{gatewayID: rec},
			SpreadingFactor: sf,
			Frequency:       frequency,
		},
		copies: 1,
	})

	return true, nil
}

// ReceivedCopies returns how many times the given packet was inserted for
// the device. A value of 1 means only the first reception has been seen, 0
// that the packet is unknown.
func (s *Store) ReceivedCopies(devAddr lorawan.DevAddr, id models.PacketID) (int, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return 0, err
	}

	i, ok := ds.receivedIndex[id]
	if !ok {
		return 0, nil
	}
	return ds.received[i].copies, nil
}

// GetLastReceivedPacketInfo returns the last packet received from the
// given device together with its reception metadata.
func (s *Store) GetLastReceivedPacketInfo(devAddr lorawan.DevAddr) (models.Packet, ReceivedPacketInfo, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return models.Packet{}, ReceivedPacketInfo{}, err
	}

	if len(ds.received) == 0 {
		return models.Packet{}, ReceivedPacketInfo{}, errors.Wrapf(ErrNoPacketsYet, "dev_addr %s", devAddr)
	}

	last := ds.received[len(ds.received)-1]
	info := last.info
	info.Gateways = make(map[lorawan.EUI64]GatewayReception, len(last.info.Gateways))
	for k, v := range last.info.Gateways {
		info.Gateways[k] = v
	}

	return last.packet, info, nil
}

// GetBestGatewaysByPower returns every gateway that received the device,
// with the power of its most recent reception, strongest first. Gateways
// with equal power are ordered by gateway ID.
func (s *Store) GetBestGatewaysByPower(devAddr lorawan.DevAddr) ([]models.GatewayPower, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return nil, err
	}

	if len(ds.received) == 0 {
		return nil, errors.Wrapf(ErrNoPacketsYet, "dev_addr %s", devAddr)
	}

	latest := make(map[lorawan.EUI64]models.GatewayPower)
	for _, rp := range ds.received {
		for gatewayID, rec := range rp.info.Gateways {
			if prev, ok := latest[gatewayID]; ok && prev.Time > rec.Time {
				continue
			}
			latest[gatewayID] = models.GatewayPower{
				GatewayID: gatewayID,
				RXPower:   rec.RXPower,
				Time:      rec.Time,
			}
		}
	}

	out := make([]models.GatewayPower, 0, len(latest))
	for _, gp := range latest {
		out = append(out, gp)
	}
	sort.Sort(models.ByPower(out))

	return out, nil
}

// AddMACCommand appends the given mac-command to the pending commands.
func (s *Store) AddMACCommand(devAddr lorawan.DevAddr, cmd lorawan.MACCommand) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.macCommands = append(ds.macCommands, cmd)
	return nil
}

// PendingMACCommands returns the pending mac-commands in insertion order.
func (s *Store) PendingMACCommands(devAddr lorawan.DevAddr) ([]lorawan.MACCommand, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return nil, err
	}
	out := make([]lorawan.MACCommand, len(ds.macCommands))
	copy(out, ds.macCommands)
	return out, nil
}

// TakeMACCommands returns and removes the pending mac-commands.
func (s *Store) TakeMACCommands(devAddr lorawan.DevAddr) ([]lorawan.MACCommand, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return nil, err
	}
	out := ds.macCommands
	ds.macCommands = nil
	return out, nil
}

// ScheduleReceiveWindowOnce records the given receive-window opportunity
// and emits the ScheduleWindow command. It fails with ErrAlreadyScheduled
// when an opportunity is already pending.
func (s *Store) ScheduleReceiveWindowOnce(devAddr lorawan.DevAddr, handle events.WindowHandle) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}

	if ds.window != nil {
		return errors.Wrapf(ErrAlreadyScheduled, "dev_addr %s", devAddr)
	}

	h := handle
	ds.window = &h

	if err := s.egress.SendCommand(events.Command{
		Type:    events.ScheduleWindow,
		DevAddr: devAddr,
		Window:  &h,
	}); err != nil {
		ds.window = nil
		return errors.Wrap(err, "send schedule window command error")
	}

	log.WithFields(log.Fields{
		"dev_addr":  devAddr,
		"handle_id": h.ID,
		"opens_at":  h.OpensAt,
	}).Debug("status: receive window scheduled")

	return nil
}

// ClearScheduledWindow clears the pending receive-window opportunity. It is
// a no-op when none is pending.
func (s *Store) ClearScheduledWindow(devAddr lorawan.DevAddr) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}
	ds.window = nil
	return nil
}

// CancelScheduledWindow clears the pending receive-window opportunity and
// emits the CancelWindow command when one was pending.
func (s *Store) CancelScheduledWindow(devAddr lorawan.DevAddr) error {
	ds, err := s.get(devAddr)
	if err != nil {
		return err
	}

	if ds.window == nil {
		return nil
	}

	h := *ds.window
	ds.window = nil

	if err := s.egress.SendCommand(events.Command{
		Type:    events.CancelWindow,
		DevAddr: devAddr,
		Window:  &h,
	}); err != nil {
		return errors.Wrap(err, "send cancel window command error")
	}

	return nil
}

// ScheduledWindow returns the pending receive-window opportunity. The
// second return value is false when none is pending.
func (s *Store) ScheduledWindow(devAddr lorawan.DevAddr) (events.WindowHandle, bool, error) {
	ds, err := s.get(devAddr)
	if err != nil {
		return events.WindowHandle{}, false, err
	}
	if ds.window == nil {
		return events.WindowHandle{}, false, nil
	}
	return *ds.window, true, nil
}

func (s *Store) get(devAddr lorawan.DevAddr) (*DeviceStatus, error) {
	ds, ok := s.devices[devAddr]
	if !ok {
		return nil, errors.Wrapf(ErrDoesNotExist, "dev_addr %s", devAddr)
	}
	return ds, nil
}
