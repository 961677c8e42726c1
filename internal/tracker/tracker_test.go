package tracker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
	"github.com/brocaar/lorawan"
)

var (
	gw1 = lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}
	gw2 = lorawan.EUI64{2, 2, 2, 2, 2, 2, 2, 2}
	gw3 = lorawan.EUI64{3, 3, 3, 3, 3, 3, 3, 3}
)

type TrackerTestSuite struct {
	suite.Suite

	tracker *Tracker
}

func (ts *TrackerTestSuite) SetupTest() {
	ts.tracker = New(phy.DefaultTXParams())
}

func (ts *TrackerTestSuite) TestSingleUplinkScenario() {
	assert := require.New(ts.T())

	pkt := models.Packet{ID: 1, SenderID: 10, Size: 10, SpreadingFactor: 7}
	assert.NoError(ts.tracker.RecordTransmission(pkt, 0))
	assert.NoError(ts.tracker.RecordMACTransmission(pkt, 0))
	assert.NoError(ts.tracker.RecordOutcome(pkt.ID, gw1, models.Received, time.Second))
	assert.NoError(ts.tracker.RecordOutcome(pkt.ID, gw2, models.Interfered, time.Second))

	assert.Equal(GatewayCounters{Sent: 1, Received: 1}, ts.tracker.CountOutcomesPerGateway(0, 2*time.Second, gw1))
	assert.Equal(GatewayCounters{Sent: 1, Interfered: 1}, ts.tracker.CountOutcomesPerGateway(0, 2*time.Second, gw2))
	assert.Equal(GatewayCounters{Sent: 1}, ts.tracker.CountOutcomesPerGateway(0, 2*time.Second, gw3))
	assert.Equal("1 1 0 0 0 0", ts.tracker.CountOutcomesPerGateway(0, 2*time.Second, gw1).String())

	sent, received := ts.tracker.GlobalMACDeliveryRatio(0, 2*time.Second)
	assert.Equal(1, sent)
	assert.Equal(1, received)

	m, err := ts.tracker.MACPacket(pkt.ID)
	assert.NoError(err)
	assert.Equal(time.Second, m.ReceivedTime)

	sent, received = ts.tracker.DevicePacketCounts(0, 2*time.Second, 10)
	assert.Equal(1, sent)
	assert.Equal(1, received)

	sent, _ = ts.tracker.DevicePacketCounts(0, 2*time.Second, 11)
	assert.Equal(0, sent)
}

func (ts *TrackerTestSuite) TestRecordErrors() {
	pkt := models.Packet{ID: 1, SenderID: 10, Size: 10, SpreadingFactor: 7}

	tests := []struct {
		name          string
		run           func(t *Tracker) error
		expectedError error
	}{
		{
			name: "outcome for unknown packet",
			run: func(t *Tracker) error {
				return t.RecordOutcome(2, gw1, models.Received, 0)
			},
			expectedError: ErrUnknownPacket,
		},
		{
			name: "mac reception for unknown packet",
			run: func(t *Tracker) error {
				return t.RecordMACReception(1, gw1, 0)
			},
			expectedError: ErrUnknownPacket,
		},
		{
			name: "duplicate outcome",
			run: func(t *Tracker) error {
				if err := t.RecordOutcome(1, gw1, models.Interfered, 0); err != nil {
					return err
				}
				return t.RecordOutcome(1, gw1, models.Received, 0)
			},
			expectedError: ErrDuplicateOutcome,
		},
		{
			name: "unset outcome",
			run: func(t *Tracker) error {
				return t.RecordOutcome(1, gw1, models.Unset, 0)
			},
			expectedError: ErrInvalidOutcome,
		},
		{
			name: "identical transmission is a no-op",
			run: func(t *Tracker) error {
				return t.RecordTransmission(pkt, time.Second)
			},
		},
		{
			name: "same packet id with different sender",
			run: func(t *Tracker) error {
				p := pkt
				p.SenderID = 11
				return t.RecordTransmission(p, time.Second)
			},
			expectedError: ErrInconsistentPacket,
		},
		{
			name: "same packet id with different send time",
			run: func(t *Tracker) error {
				return t.RecordTransmission(pkt, 2*time.Second)
			},
			expectedError: ErrInconsistentPacket,
		},
	}

	for _, tst := range tests {
		ts.T().Run(tst.name, func(t *testing.T) {
			assert := require.New(t)

			tr := New(phy.DefaultTXParams())
			assert.NoError(tr.RecordTransmission(pkt, time.Second))

			err := tst.run(tr)
			if tst.expectedError == nil {
				assert.NoError(err)
			} else {
				assert.Equal(tst.expectedError, errors.Cause(err))
			}
		})
	}
}

func (ts *TrackerTestSuite) TestDuplicateOutcomeKeepsFirst() {
	assert := require.New(ts.T())

	pkt := models.Packet{ID: 1, SenderID: 10, Size: 10, SpreadingFactor: 7}
	assert.NoError(ts.tracker.RecordTransmission(pkt, 0))
	assert.NoError(ts.tracker.RecordOutcome(pkt.ID, gw1, models.Interfered, 0))
	assert.Error(ts.tracker.RecordOutcome(pkt.ID, gw1, models.Received, 0))

	r, err := ts.tracker.PhyPacket(pkt.ID)
	assert.NoError(err)
	assert.Equal(models.Interfered, r.Outcomes[gw1])
}

func (ts *TrackerTestSuite) TestMACReceptionKeepsEarliest() {
	assert := require.New(ts.T())

	pkt := models.Packet{ID: 1, SenderID: 10, Size: 10, SpreadingFactor: 7}
	assert.NoError(ts.tracker.RecordMACTransmission(pkt, 0))

	m, err := ts.tracker.MACPacket(pkt.ID)
	assert.NoError(err)
	assert.Equal(models.Never, m.ReceivedTime)

	assert.NoError(ts.tracker.RecordMACReception(pkt.ID, gw1, 3*time.Second))
	assert.NoError(ts.tracker.RecordMACReception(pkt.ID, gw2, 2*time.Second))
	assert.NoError(ts.tracker.RecordMACReception(pkt.ID, gw1, time.Second))
	assert.NoError(ts.tracker.RecordMACReception(pkt.ID, gw1, 4*time.Second))

	m, err = ts.tracker.MACPacket(pkt.ID)
	assert.NoError(err)
	assert.Equal(time.Second, m.ReceivedTime)
	assert.Equal(map[lorawan.EUI64]time.Duration{
		gw1: time.Second,
		gw2: 2 * time.Second,
	}, m.ReceptionTimes)
}

func (ts *TrackerTestSuite) TestRetransmissions() {
	assert := require.New(ts.T())

	ts.tracker.RecordRetransmissionOutcome(RetransmissionRecord{PacketID: 1, FirstAttempt: time.Second, FinishTime: 3 * time.Second, Attempts: 2, Succeeded: true})
	ts.tracker.RecordRetransmissionOutcome(RetransmissionRecord{PacketID: 1, FirstAttempt: time.Second, FinishTime: 9 * time.Second, Attempts: 8, Succeeded: false})
	ts.tracker.RecordRetransmissionOutcome(RetransmissionRecord{PacketID: 2, FirstAttempt: 2 * time.Second, Attempts: 8})
	ts.tracker.RecordRetransmissionOutcome(RetransmissionRecord{PacketID: 3, FirstAttempt: 20 * time.Second, Attempts: 1, Succeeded: true})

	sent, received := ts.tracker.RetransmissionDeliveryRatio(0, 10*time.Second)
	assert.Equal(2, sent)
	assert.Equal(1, received)
}

func (ts *TrackerTestSuite) TestHandleEvent() {
	assert := require.New(ts.T())
	ctx := context.Background()
	pkt := models.Packet{ID: 5, SenderID: 1, Size: 20, SpreadingFactor: 9}

	for _, e := range []events.Event{
		{Type: events.TransmissionStarted, Time: 0, Transmission: &events.Transmission{Packet: pkt}},
		{Type: events.MACTransmissionStarted, Time: 0, Transmission: &events.Transmission{Packet: pkt}},
		{Type: events.ReceptionOutcome, Time: time.Second, Reception: &events.Reception{PacketID: pkt.ID, GatewayID: gw1, Outcome: models.UnderSensitivity}},
		{Type: events.MACReception, Time: 2 * time.Second, Reception: &events.Reception{PacketID: pkt.ID, GatewayID: gw2}},
		{Type: events.RetransmissionFinished, Time: 3 * time.Second, Retransmission: &events.Retransmission{PacketID: pkt.ID, Attempts: 1, Succeeded: true}},
		{Type: events.DeviceRegistered, Device: &events.Device{}},
	} {
		assert.NoError(ts.tracker.HandleEvent(ctx, e))
	}

	assert.Equal(GatewayCounters{Sent: 1, UnderSensitivity: 1}, ts.tracker.CountOutcomesPerGateway(0, time.Second, gw1))

	sent, received := ts.tracker.GlobalMACDeliveryRatio(0, time.Second)
	assert.Equal(1, sent)
	assert.Equal(1, received)

	sent, received = ts.tracker.RetransmissionDeliveryRatio(0, time.Second)
	assert.Equal(1, sent)
	assert.Equal(1, received)

	err := ts.tracker.HandleEvent(ctx, events.Event{Type: events.ReceptionOutcome, Reception: &events.Reception{PacketID: 99, GatewayID: gw1, Outcome: models.Received}})
	assert.Equal(ErrUnknownPacket, errors.Cause(err))
}

func (ts *TrackerTestSuite) TestSnapshotAndMerge() {
	assert := require.New(ts.T())

	a := New(phy.DefaultTXParams())
	b := New(phy.DefaultTXParams())
	assert.NoError(a.RecordTransmission(models.Packet{ID: 1, Size: 10, SpreadingFactor: 7}, 0))
	assert.NoError(b.RecordTransmission(models.Packet{ID: 2, Size: 10, SpreadingFactor: 7}, 0))
	assert.NoError(b.RecordOutcome(2, gw1, models.Received, 0))

	snap := b.Snapshot()
	assert.NoError(b.RecordOutcome(2, gw2, models.Interfered, 0))

	r, err := snap.PhyPacket(2)
	assert.NoError(err)
	assert.Len(r.Outcomes, 1)

	merged, err := Merge(phy.DefaultTXParams(), a, b)
	assert.NoError(err)
	assert.Equal(2, merged.CountOutcomesPerGateway(0, 0, gw1).Sent)
	assert.Equal(1, merged.CountOutcomesPerGateway(0, 0, gw1).Received)

	_, err = Merge(phy.DefaultTXParams(), a, a)
	assert.Equal(ErrInconsistentPacket, errors.Cause(err))
}

func TestTracker(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func TestNewPacketID(t *testing.T) {
	assert := require.New(t)

	a := NewPacketID()
	b := NewPacketID()
	assert.True(b > a)
}

func TestAggregateStatistics(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []models.Outcome
		expected func(r Report) int
	}{
		{
			name:     "received wins over everything",
			outcomes: []models.Outcome{models.Interfered, models.LostBecauseTx, models.Received},
			expected: func(r Report) int { return r.Received },
		},
		{
			name:     "interfered wins over no more receivers",
			outcomes: []models.Outcome{models.NoMoreReceivers, models.UnderSensitivity, models.Interfered},
			expected: func(r Report) int { return r.Interfered },
		},
		{
			name:     "no more receivers wins over busy gateway",
			outcomes: []models.Outcome{models.LostBecauseTx, models.NoMoreReceivers},
			expected: func(r Report) int { return r.NoMoreReceivers },
		},
		{
			name:     "busy gateway wins over under sensitivity",
			outcomes: []models.Outcome{models.UnderSensitivity, models.LostBecauseTx},
			expected: func(r Report) int { return r.BusyGateway },
		},
		{
			name:     "under sensitivity only",
			outcomes: []models.Outcome{models.UnderSensitivity},
			expected: func(r Report) int { return r.UnderSensitivity },
		},
		{
			name:     "no outcomes at all",
			expected: func(r Report) int { return r.UnderSensitivity },
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)

			tr := New(phy.DefaultTXParams())
			assert.NoError(tr.RecordTransmission(models.Packet{ID: 1, Size: 10, SpreadingFactor: 7}, time.Second))
			for i, o := range tst.outcomes {
				assert.NoError(tr.RecordOutcome(1, lorawan.EUI64{byte(i)}, o, time.Second))
			}

			r, err := tr.AggregateStatistics(0, 10*time.Second)
			assert.NoError(err)
			assert.Equal(1, r.Sent)
			assert.Equal(1, tst.expected(r))
			assert.Equal(1, r.Received+r.Interfered+r.NoMoreReceivers+r.BusyGateway+r.UnderSensitivity)
		})
	}
}

func TestAggregateStatisticsTraffic(t *testing.T) {
	assert := require.New(t)

	tr := New(phy.DefaultTXParams())
	pkt := models.Packet{ID: 1, SenderID: 1, Size: 10, SpreadingFactor: 7}
	assert.NoError(tr.RecordTransmission(pkt, time.Second))
	assert.NoError(tr.RecordMACTransmission(pkt, time.Second))
	assert.NoError(tr.RecordOutcome(pkt.ID, gw1, models.Received, time.Second))

	r, err := tr.AggregateStatistics(0, 10*time.Second)
	assert.NoError(err)
	assert.Equal(10, r.BytesSent)
	assert.InDelta(8, r.InputTraffic, 1e-9)
	assert.InDelta(8, r.Throughput, 1e-9)
	assert.InDelta(0.0041216, r.OfferedTraffic, 1e-9)
	assert.Equal(1.0, r.DeviceDeliveryMean)
	assert.Equal(0.0, r.DeviceDeliveryStdDev)
	assert.Equal(100.0, r.Percentage(r.Received))

	s := r.String()
	assert.True(strings.Contains(s, "Packets outcomes distribution (1 sent, 1 received):"))
	assert.True(strings.Contains(s, "RECEIVED: 100%"))
	assert.True(strings.Contains(s, "BUSY_GATEWAY: 0%"))
	assert.True(strings.Contains(s, "Input Traffic: 8 b/s"))
	assert.True(strings.Contains(s, "Total offered traffic: 0.0041216 E"))
}

func TestAggregateStatisticsWindow(t *testing.T) {
	assert := require.New(t)

	tr := New(phy.DefaultTXParams())
	assert.NoError(tr.RecordTransmission(models.Packet{ID: 1, Size: 10, SpreadingFactor: 7}, 4*time.Second))
	assert.NoError(tr.RecordTransmission(models.Packet{ID: 2, Size: 10, SpreadingFactor: 7}, 6*time.Second))

	r, err := tr.AggregateStatistics(10*time.Second, 20*time.Second)
	assert.NoError(err)
	assert.Equal(1, r.Sent)

	_, err = tr.AggregateStatistics(20*time.Second, 30*time.Second)
	assert.Equal(ErrNoTraffic, errors.Cause(err))

	_, err = tr.AggregateStatistics(10*time.Second, 10*time.Second)
	assert.Equal(ErrInvalidInterval, errors.Cause(err))
}

func TestAggregateStatisticsOrderIndependent(t *testing.T) {
	assert := require.New(t)

	type outcome struct {
		id      models.PacketID
		gateway lorawan.EUI64
		outcome models.Outcome
	}
	outcomes := []outcome{
		{1, gw1, models.Received},
		{1, gw2, models.Interfered},
		{2, gw1, models.LostBecauseTx},
		{2, gw2, models.NoMoreReceivers},
		{3, gw3, models.UnderSensitivity},
		{4, gw1, models.Interfered},
		{4, gw3, models.LostBecauseTx},
	}

	build := func(order []int) Report {
		tr := New(phy.DefaultTXParams())
		for i := 1; i <= 5; i++ {
			sf := 7 + i
			assert.NoError(tr.RecordTransmission(models.Packet{ID: models.PacketID(i), SenderID: uint32(i % 2), Size: 10 * i, SpreadingFactor: sf}, time.Duration(i)*time.Second))
		}
		for _, i := range order {
			o := outcomes[i]
			assert.NoError(tr.RecordOutcome(o.id, o.gateway, o.outcome, 0))
		}
		r, err := tr.AggregateStatistics(0, 60*time.Second)
		assert.NoError(err)
		return r
	}

	a := build([]int{0, 1, 2, 3, 4, 5, 6})
	b := build([]int{6, 5, 4, 3, 2, 1, 0})
	c := build([]int{3, 0, 6, 1, 5, 2, 4})
	assert.Equal(a, b)
	assert.Equal(a, c)

	assert.Equal(5, a.Sent)
	assert.Equal(1, a.Received)
	assert.Equal(1, a.Interfered)
	assert.Equal(1, a.NoMoreReceivers)
	assert.Equal(0, a.BusyGateway)
	assert.Equal(2, a.UnderSensitivity)
	assert.InDelta(100, a.Percentage(a.Received)+a.Percentage(a.Interfered)+a.Percentage(a.NoMoreReceivers)+a.Percentage(a.BusyGateway)+a.Percentage(a.UnderSensitivity), 1e-9)

	for _, gw := range []lorawan.EUI64{gw1, gw2, gw3} {
		tr := New(phy.DefaultTXParams())
		for i := 1; i <= 5; i++ {
			assert.NoError(tr.RecordTransmission(models.Packet{ID: models.PacketID(i), Size: 10, SpreadingFactor: 7}, time.Duration(i)*time.Second))
		}
		for _, o := range outcomes {
			assert.NoError(tr.RecordOutcome(o.id, o.gateway, o.outcome, 0))
		}
		c := tr.CountOutcomesPerGateway(0, 60*time.Second, gw)
		assert.True(c.Received+c.Interfered+c.NoMoreReceivers+c.UnderSensitivity+c.LostBecauseTx <= c.Sent)
	}
}

func TestSummarize(t *testing.T) {
	assert := require.New(t)

	tr := New(phy.DefaultTXParams())
	p1 := models.Packet{ID: 1, SenderID: 10, Size: 10, SpreadingFactor: 7}
	p2 := models.Packet{ID: 2, SenderID: 11, Size: 10, SpreadingFactor: 7}

	for _, p := range []models.Packet{p1, p2} {
		assert.NoError(tr.RecordTransmission(p, time.Second))
		assert.NoError(tr.RecordMACTransmission(p, time.Second))
	}
	assert.NoError(tr.RecordOutcome(p1.ID, gw2, models.Received, time.Second))
	assert.NoError(tr.RecordOutcome(p1.ID, gw1, models.Interfered, time.Second))
	assert.NoError(tr.RecordOutcome(p2.ID, gw1, models.UnderSensitivity, time.Second))
	tr.RecordRetransmissionOutcome(RetransmissionRecord{PacketID: p1.ID, FirstAttempt: time.Second, FinishTime: 2 * time.Second, Attempts: 1, Succeeded: true})
	tr.RecordRetransmissionOutcome(RetransmissionRecord{PacketID: p2.ID, FirstAttempt: time.Second, FinishTime: 9 * time.Second, Attempts: 8})

	s, err := tr.Summarize(0, 10*time.Second)
	assert.NoError(err)

	assert.Equal(2, s.Report.Sent)
	assert.Equal(2, s.MACSent)
	assert.Equal(1, s.MACReceived)
	assert.Equal(0.5, s.MACDeliveryRatio())
	assert.Equal(2, s.RetransmissionSent)
	assert.Equal(1, s.RetransmissionSucceeded)
	assert.Equal(0.5, s.RetransmissionDeliveryRatio())

	assert.Equal([]GatewaySummary{
		{GatewayID: gw1, Counters: GatewayCounters{Sent: 2, Interfered: 1, UnderSensitivity: 1}},
		{GatewayID: gw2, Counters: GatewayCounters{Sent: 2, Received: 1}},
	}, s.Gateways)

	out := s.String()
	assert.True(strings.Contains(out, "MAC packets (2 sent, 1 received): PDR 0.5"), out)
	assert.True(strings.Contains(out, "Transmission cycles (2 started, 1 succeeded): PDR 0.5"), out)
	assert.True(strings.Contains(out, "0101010101010101: 2 0 1 0 1 0"), out)
	assert.True(strings.Contains(out, "0202020202020202: 2 1 0 0 0 0"), out)

	m := s.Metrics()
	assert.Equal(2.0, m["mac_sent"])
	assert.Equal(1.0, m["mac_received"])
	assert.Equal(2.0, m["retransmission_sent"])
	assert.Equal(1.0, m["retransmission_succeeded"])
	assert.Equal(1.0, m["received"])
}

func TestSummarizeNoTraffic(t *testing.T) {
	assert := require.New(t)

	_, err := New(phy.DefaultTXParams()).Summarize(0, time.Second)
	assert.Equal(ErrNoTraffic, errors.Cause(err))
}
