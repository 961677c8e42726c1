package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_transmission_count",
		Help: "The number of recorded transmissions (per layer).",
	}, []string{"layer"})

	oc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_outcome_count",
		Help: "The number of recorded reception outcomes (per outcome).",
	}, []string{"outcome"})

	doc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_duplicate_outcome_count",
		Help: "The number of rejected duplicate reception outcomes.",
	})

	upc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_unknown_packet_count",
		Help: "The number of events referring to an unknown packet.",
	})
)

func transmissionCounter(layer string) prometheus.Counter {
	return tc.With(prometheus.Labels{"layer": layer})
}

func outcomeCounter(o string) prometheus.Counter {
	return oc.With(prometheus.Labels{"outcome": o})
}

func duplicateOutcomeCounter() prometheus.Counter {
	return doc
}

func unknownPacketCounter() prometheus.Counter {
	return upc
}
