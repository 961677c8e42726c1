package amqp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
)

var (
	eventCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_amqp_event_count",
		Help: "The number of simulator events handed to the core (per event type).",
	}, []string{"type"})

	rejectedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_amqp_event_rejected_count",
		Help: "The number of AMQP deliveries which did not result in an event (per reason).",
	}, []string{"reason"})

	commandCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_amqp_command_count",
		Help: "The number of commands published to the simulator (per command type).",
	}, []string{"type"})

	openChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_amqp_open_channels",
		Help: "The number of AMQP channels opened by the backend.",
	})
)

const (
	rejectUnmarshal       = "unmarshal"
	rejectRoutingMismatch = "routing_key_mismatch"
	rejectClosed          = "closed"
)

func eventCounter(t events.Type) prometheus.Counter {
	return eventCount.With(prometheus.Labels{"type": string(t)})
}

func rejectedCounter(reason string) prometheus.Counter {
	return rejectedCount.With(prometheus.Labels{"reason": reason})
}

func commandCounter(t events.CommandType) prometheus.Counter {
	return commandCount.With(prometheus.Labels{"type": string(t)})
}

func openChannelsGauge() prometheus.Gauge {
	return openChannels
}
