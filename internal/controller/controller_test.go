package controller

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-network-simulator/internal/band"
	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/chirpstack-network-simulator/internal/status"
	"github.com/brocaar/chirpstack-network-simulator/internal/test"
	"github.com/brocaar/lorawan"
)

type egress struct {
	commands []events.Command
}

func (e *egress) SendCommand(c events.Command) error {
	e.commands = append(e.commands, c)
	return nil
}

type ControllerTestSuite struct {
	suite.Suite

	egress     *egress
	store      *status.Store
	controller *Controller

	devAddr lorawan.DevAddr
	gw1     lorawan.EUI64
	gw2     lorawan.EUI64
}

func (ts *ControllerTestSuite) SetupSuite() {
	ts.Require().NoError(band.Setup(test.GetConfig()))
}

func (ts *ControllerTestSuite) SetupTest() {
	ts.devAddr = lorawan.DevAddr{1, 2, 3, 4}
	ts.gw1 = lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}
	ts.gw2 = lorawan.EUI64{2, 2, 2, 2, 2, 2, 2, 2}

	ts.egress = &egress{}
	ts.store = status.NewStore(0, 869525000, ts.egress)
	ts.controller = New(ts.store, time.Second, 0)

	_, err := ts.store.Register(ts.devAddr, 7, 0, 0)
	ts.Require().NoError(err)
}

func (ts *ControllerTestSuite) uplink(t time.Duration, id models.PacketID, gatewayID lorawan.EUI64, rxPower float64, confirmed, linkCheck bool) {
	e := events.Event{
		Type: events.PacketReceivedAtServer,
		Time: t,
		Uplink: &events.Uplink{
			Packet: models.Packet{
				ID:              id,
				SenderID:        7,
				Size:            20,
				SpreadingFactor: 7,
			},
			DevAddr:      ts.devAddr,
			GatewayID:    gatewayID,
			RXPower:      rxPower,
			Frequency:    868100000,
			Confirmed:    confirmed,
			LinkCheckReq: linkCheck,
		},
	}

	ts.Require().NoError(ts.store.HandleEvent(context.Background(), e))
	ts.Require().NoError(ts.controller.HandleEvent(context.Background(), e))
}

func (ts *ControllerTestSuite) openWindow(t time.Duration, handleID uuid.UUID) {
	ts.Require().NoError(ts.controller.HandleEvent(context.Background(), events.Event{
		Type: events.ReceiveWindowOpened,
		Time: t,
		ReceiveWindow: &events.ReceiveWindow{
			DevAddr:  ts.devAddr,
			HandleID: handleID,
		},
	}))
}

func (ts *ControllerTestSuite) TestConfirmedUplink() {
	assert := require.New(ts.T())

	ts.uplink(time.Second, 1, ts.gw1, -100, true, false)
	ts.uplink(time.Second+10*time.Millisecond, 1, ts.gw2, -90, true, false)

	assert.Len(ts.egress.commands, 1)
	cmd := ts.egress.commands[0]
	assert.Equal(events.ScheduleWindow, cmd.Type)
	assert.Equal(2*time.Second, cmd.Window.OpensAt)

	ds, err := ts.store.Get(ts.devAddr)
	assert.NoError(err)
	assert.Equal(5, ds.RX1DR)
	assert.EqualValues(868100000, ds.RX1Frequency)

	ts.openWindow(2*time.Second, cmd.Window.ID)

	assert.Len(ts.egress.commands, 2)
	cmd = ts.egress.commands[1]
	assert.Equal(events.StageReply, cmd.Type)
	assert.Equal(ts.devAddr, cmd.DevAddr)
	assert.Equal(ts.gw2, cmd.Reply.GatewayID)
	assert.Equal(5, cmd.Reply.DR)
	assert.EqualValues(868100000, cmd.Reply.Frequency)
	assert.Equal([]byte{0x60}, cmd.Reply.MACHeader)
	assert.Equal([]byte{0x04, 0x03, 0x02, 0x01, 0x20, 0x00, 0x00}, cmd.Reply.FrameHeader)
	assert.Empty(cmd.Reply.Payload)

	_, pending, err := ts.store.ScheduledWindow(ts.devAddr)
	assert.NoError(err)
	assert.False(pending)
}

func (ts *ControllerTestSuite) TestUnconfirmedUplink() {
	assert := require.New(ts.T())

	ts.uplink(time.Second, 1, ts.gw1, -100, false, false)
	assert.Len(ts.egress.commands, 1)

	ts.openWindow(2*time.Second, ts.egress.commands[0].Window.ID)
	assert.Len(ts.egress.commands, 1)

	_, pending, err := ts.store.ScheduledWindow(ts.devAddr)
	assert.NoError(err)
	assert.False(pending)
}

func (ts *ControllerTestSuite) TestInterleavedCopies() {
	assert := require.New(ts.T())

	ts.uplink(time.Second, 1, ts.gw1, -100, false, false)
	ts.uplink(time.Second+100*time.Millisecond, 2, ts.gw1, -100, true, false)
	ts.uplink(time.Second+200*time.Millisecond, 1, ts.gw2, -90, false, false)

	assert.Len(ts.egress.commands, 1)
	ts.openWindow(2*time.Second, ts.egress.commands[0].Window.ID)

	assert.Len(ts.egress.commands, 2)
	cmd := ts.egress.commands[1]
	assert.Equal(events.StageReply, cmd.Type)
	assert.Equal([]byte{0x04, 0x03, 0x02, 0x01, 0x20, 0x00, 0x00}, cmd.Reply.FrameHeader)
}

func (ts *ControllerTestSuite) TestRX1DataRateFromReceivedSpreadingFactor() {
	assert := require.New(ts.T())

	e := events.Event{
		Type: events.PacketReceivedAtServer,
		Time: time.Second,
		Uplink: &events.Uplink{
			Packet:          models.Packet{ID: 1, SenderID: 7, Size: 20, SpreadingFactor: 7},
			DevAddr:         ts.devAddr,
			GatewayID:       ts.gw1,
			RXPower:         -100,
			SpreadingFactor: 9,
			Frequency:       868100000,
		},
	}
	assert.NoError(ts.store.HandleEvent(context.Background(), e))
	assert.NoError(ts.controller.HandleEvent(context.Background(), e))

	ds, err := ts.store.Get(ts.devAddr)
	assert.NoError(err)
	assert.Equal(3, ds.RX1DR)
}

func (ts *ControllerTestSuite) TestLinkCheck() {
	assert := require.New(ts.T())

	ts.uplink(time.Second, 1, ts.gw1, -80, false, true)
	ts.uplink(time.Second, 1, ts.gw2, -100, false, true)

	ts.openWindow(2*time.Second, ts.egress.commands[0].Window.ID)

	assert.Len(ts.egress.commands, 2)
	cmd := ts.egress.commands[1]
	assert.Equal(events.StageReply, cmd.Type)
	assert.Equal(ts.gw1, cmd.Reply.GatewayID)
	assert.Equal([]byte{0x04, 0x03, 0x02, 0x01, 0x03, 0x00, 0x00, 0x02, 44, 2}, cmd.Reply.FrameHeader)

	pending, err := ts.store.PendingMACCommands(ts.devAddr)
	assert.NoError(err)
	assert.Len(pending, 0)
}

func (ts *ControllerTestSuite) TestStaleWindow() {
	assert := require.New(ts.T())

	ts.uplink(time.Second, 1, ts.gw1, -100, true, false)
	handle := ts.egress.commands[0].Window

	ts.openWindow(2*time.Second, uuid.Must(uuid.NewV4()))
	assert.Len(ts.egress.commands, 1)

	h, pending, err := ts.store.ScheduledWindow(ts.devAddr)
	assert.NoError(err)
	assert.True(pending)
	assert.Equal(*handle, h)
}

func (ts *ControllerTestSuite) TestCancelReceiveWindow() {
	assert := require.New(ts.T())

	ts.uplink(time.Second, 1, ts.gw1, -100, true, false)
	handle := ts.egress.commands[0].Window

	assert.NoError(ts.controller.CancelReceiveWindow(ts.devAddr))
	assert.Len(ts.egress.commands, 2)
	assert.Equal(events.CancelWindow, ts.egress.commands[1].Type)

	// the expiry event of the cancelled window is still delivered
	ts.openWindow(2*time.Second, handle.ID)
	assert.Len(ts.egress.commands, 2)

	// a new uplink schedules a new window
	ts.uplink(3*time.Second, 2, ts.gw1, -100, false, false)
	assert.Len(ts.egress.commands, 3)
	assert.Equal(events.ScheduleWindow, ts.egress.commands[2].Type)
	assert.NotEqual(handle.ID, ts.egress.commands[2].Window.ID)
}

func (ts *ControllerTestSuite) TestUnknownDevice() {
	assert := require.New(ts.T())

	err := ts.controller.HandleEvent(context.Background(), events.Event{
		Type: events.ReceiveWindowOpened,
		ReceiveWindow: &events.ReceiveWindow{
			DevAddr: lorawan.DevAddr{9, 9, 9, 9},
		},
	})
	assert.Error(err)
}

func TestController(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
