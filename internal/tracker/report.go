package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
	"github.com/brocaar/lorawan"
)

// StatisticsGraceWindow is subtracted from the statistics start, so that
// packets sent shortly before it are still accounted for.
const StatisticsGraceWindow = 5 * time.Second

// Report holds the aggregated simulation statistics. Every packet is
// counted in exactly one of the outcome categories.
type Report struct {
	Since time.Duration
	Now   time.Duration

	Sent             int
	Received         int
	Interfered       int
	NoMoreReceivers  int
	BusyGateway      int
	UnderSensitivity int

	BytesSent     int
	BytesReceived int

	// InputTraffic and Throughput are in bit/s.
	InputTraffic float64
	Throughput   float64

	// OfferedTraffic is in Erlang.
	OfferedTraffic float64

	// Mean and standard deviation of the per-device MAC delivery ratio.
	DeviceDeliveryMean   float64
	DeviceDeliveryStdDev float64
}

// Percentage returns the given count as percentage of the sent packets.
func (r Report) Percentage(count int) float64 {
	if r.Sent == 0 {
		return 0
	}
	return float64(count) / float64(r.Sent) * 100
}

// String returns the formatted statistics report.
func (r Report) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "\nPackets outcomes distribution (%d sent, %d received):", r.Sent, r.Received)
	fmt.Fprintf(&sb, "\n  RECEIVED: %.6g%%", r.Percentage(r.Received))
	fmt.Fprintf(&sb, "\n  INTERFERED: %.6g%%", r.Percentage(r.Interfered))
	fmt.Fprintf(&sb, "\n  NO_MORE_RECEIVERS: %.6g%%", r.Percentage(r.NoMoreReceivers))
	fmt.Fprintf(&sb, "\n  BUSY_GATEWAY: %.6g%%", r.Percentage(r.BusyGateway))
	fmt.Fprintf(&sb, "\n  UNDER_SENSITIVITY: %.6g%%\n", r.Percentage(r.UnderSensitivity))

	fmt.Fprintf(&sb, "\nInput Traffic: %.6g b/s", r.InputTraffic)
	fmt.Fprintf(&sb, "\nNetwork Throughput: %.6g b/s\n", r.Throughput)

	fmt.Fprintf(&sb, "\nTotal offered traffic: %.6g E\n", r.OfferedTraffic)

	return sb.String()
}

// Metrics returns the report as a flat metrics map.
func (r Report) Metrics() map[string]float64 {
	return map[string]float64{
		"sent":              float64(r.Sent),
		"received":          float64(r.Received),
		"interfered":        float64(r.Interfered),
		"no_more_receivers": float64(r.NoMoreReceivers),
		"busy_gateway":      float64(r.BusyGateway),
		"under_sensitivity": float64(r.UnderSensitivity),
		"bytes_sent":        float64(r.BytesSent),
		"bytes_received":    float64(r.BytesReceived),
		"offered_traffic":   r.OfferedTraffic,
	}
}

// AggregateStatistics aggregates the outcomes of all packets sent since
// since-StatisticsGraceWindow. A packet is classified by the best outcome
// any gateway recorded for it, in the order Received, Interfered,
// NoMoreReceivers, LostBecauseTx (busy gateway). Packets without any of
// these are counted as under sensitivity.
func (t *Tracker) AggregateStatistics(since, now time.Duration) (Report, error) {
	if now <= since {
		return Report{}, errors.Wrapf(ErrInvalidInterval, "since %s, now %s", since, now)
	}

	r := Report{
		Since: since,
		Now:   now,
	}

	ids := make([]models.PacketID, 0, len(t.phy))
	for id, pr := range t.phy {
		if pr.SendTime < since-StatisticsGraceWindow {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return Report{}, ErrNoTraffic
	}

	// sums are taken in packet order, so that the result does not depend on
	// the map iteration order
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	airtimes := make([]float64, 0, len(ids))

	for _, id := range ids {
		pr := t.phy[id]
		r.Sent++
		r.BytesSent += pr.Packet.Size

		params := t.profile
		params.SpreadingFactor = pr.Packet.SpreadingFactor
		params.LowDataRateOptimization = phy.NeedsLowDataRateOptimization(params.SpreadingFactor, params.BandwidthHz)
		airtimes = append(airtimes, phy.OnAirTime(pr.Packet.Size, params).Seconds())

		switch classify(pr.Outcomes) {
		case models.Received:
			r.Received++
			r.BytesReceived += pr.Packet.Size
		case models.Interfered:
			r.Interfered++
		case models.NoMoreReceivers:
			r.NoMoreReceivers++
		case models.LostBecauseTx:
			r.BusyGateway++
		default:
			r.UnderSensitivity++
		}
	}

	elapsed := (now - since).Seconds()
	r.InputTraffic = float64(r.BytesSent) * 8 / elapsed
	r.Throughput = float64(r.BytesReceived) * 8 / elapsed
	r.OfferedTraffic = floats.Sum(airtimes) / elapsed
	r.DeviceDeliveryMean, r.DeviceDeliveryStdDev = t.deviceDeliveryStats(since - StatisticsGraceWindow)

	return r, nil
}

func classify(outcomes map[lorawan.EUI64]models.Outcome) models.Outcome {
	var interfered, noMoreReceivers, busyGateway bool

	for _, o := range outcomes {
		switch o {
		case models.Received:
			return models.Received
		case models.Interfered:
			interfered = true
		case models.NoMoreReceivers:
			noMoreReceivers = true
		case models.LostBecauseTx:
			busyGateway = true
		}
	}

	switch {
	case interfered:
		return models.Interfered
	case noMoreReceivers:
		return models.NoMoreReceivers
	case busyGateway:
		return models.LostBecauseTx
	default:
		return models.UnderSensitivity
	}
}

func (t *Tracker) deviceDeliveryStats(since time.Duration) (mean, stdDev float64) {
	type counts struct {
		sent, received int
	}
	perDevice := make(map[uint32]*counts)

	for _, m := range t.mac {
		if m.SendTime < since {
			continue
		}

		c, ok := perDevice[m.Packet.SenderID]
		if !ok {
			c = &counts{}
			perDevice[m.Packet.SenderID] = c
		}
		c.sent++
		if len(m.ReceptionTimes) > 0 {
			c.received++
		}
	}

	senders := make([]uint32, 0, len(perDevice))
	for id := range perDevice {
		senders = append(senders, id)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })

	ratios := make([]float64, 0, len(senders))
	for _, id := range senders {
		c := perDevice[id]
		ratios = append(ratios, float64(c.received)/float64(c.sent))
	}

	switch len(ratios) {
	case 0:
		return 0, 0
	case 1:
		return ratios[0], 0
	default:
		return stat.MeanStdDev(ratios, nil)
	}
}
