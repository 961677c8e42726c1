package tracker

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brocaar/lorawan"
)

// GatewaySummary holds the outcome counters of a single gateway.
type GatewaySummary struct {
	GatewayID lorawan.EUI64
	Counters  GatewayCounters
}

// Summary holds the end-of-run statistics: the aggregated report, the
// global MAC and retransmission delivery ratios and the per-gateway
// counters.
type Summary struct {
	Report Report

	MACSent     int
	MACReceived int

	RetransmissionSent      int
	RetransmissionSucceeded int

	// Sorted by gateway ID.
	Gateways []GatewaySummary
}

// Summarize returns the Summary over the packets sent since
// since-StatisticsGraceWindow.
func (t *Tracker) Summarize(since, now time.Duration) (Summary, error) {
	r, err := t.AggregateStatistics(since, now)
	if err != nil {
		return Summary{}, err
	}

	start := since - StatisticsGraceWindow
	s := Summary{Report: r}
	s.MACSent, s.MACReceived = t.GlobalMACDeliveryRatio(start, now)
	s.RetransmissionSent, s.RetransmissionSucceeded = t.RetransmissionDeliveryRatio(start, now)

	for _, id := range t.Gateways() {
		s.Gateways = append(s.Gateways, GatewaySummary{
			GatewayID: id,
			Counters:  t.CountOutcomesPerGateway(start, now, id),
		})
	}

	return s, nil
}

// Gateways returns the IDs of the gateways for which an outcome has been
// recorded, sorted.
func (t *Tracker) Gateways() []lorawan.EUI64 {
	seen := make(map[lorawan.EUI64]struct{})
	for _, r := range t.phy {
		for id := range r.Outcomes {
			seen[id] = struct{}{}
		}
	}

	out := make([]lorawan.EUI64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// MACDeliveryRatio returns the fraction of MAC packets received by at least
// one gateway, or 0 when none were sent.
func (s Summary) MACDeliveryRatio() float64 {
	return ratio(s.MACReceived, s.MACSent)
}

// RetransmissionDeliveryRatio returns the fraction of successful
// transmission cycles, or 0 when none were started.
func (s Summary) RetransmissionDeliveryRatio() float64 {
	return ratio(s.RetransmissionSucceeded, s.RetransmissionSent)
}

// String returns the report followed by the delivery ratios and the
// per-gateway counters (sent received interfered no-more-receivers
// under-sensitivity lost-because-tx).
func (s Summary) String() string {
	var sb strings.Builder

	sb.WriteString(s.Report.String())

	fmt.Fprintf(&sb, "\nMAC packets (%d sent, %d received): PDR %.6g", s.MACSent, s.MACReceived, s.MACDeliveryRatio())
	fmt.Fprintf(&sb, "\nTransmission cycles (%d started, %d succeeded): PDR %.6g\n", s.RetransmissionSent, s.RetransmissionSucceeded, s.RetransmissionDeliveryRatio())

	if len(s.Gateways) != 0 {
		sb.WriteString("\nPer-gateway outcomes:")
		for _, gw := range s.Gateways {
			fmt.Fprintf(&sb, "\n  %s: %s", gw.GatewayID, gw.Counters)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Metrics returns the report metrics extended with the delivery-ratio
// counters.
func (s Summary) Metrics() map[string]float64 {
	out := s.Report.Metrics()
	out["mac_sent"] = float64(s.MACSent)
	out["mac_received"] = float64(s.MACReceived)
	out["retransmission_sent"] = float64(s.RetransmissionSent)
	out["retransmission_succeeded"] = float64(s.RetransmissionSucceeded)
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
