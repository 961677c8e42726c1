package ingress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingress_event_count",
		Help: "The number of accepted ingress events (per type).",
	}, []string{"type"})

	rc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingress_rejected_count",
		Help: "The number of non-fatal handler errors (per error).",
	}, []string{"error"})
)

func eventCounter(t events.Type) prometheus.Counter {
	return ec.With(prometheus.Labels{"type": string(t)})
}

func errorCounter(err error) prometheus.Counter {
	return rc.With(prometheus.Labels{"error": err.Error()})
}
