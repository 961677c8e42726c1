package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brocaar/chirpstack-network-simulator/internal/events"
)

var (
	eventCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_mqtt_event_count",
		Help: "The number of simulator events handed to the core (per event type).",
	}, []string{"type"})

	rejectedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_mqtt_event_rejected_count",
		Help: "The number of MQTT messages which did not result in an event (per reason).",
	}, []string{"reason"})

	commandCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_mqtt_command_count",
		Help: "The number of commands published to the simulator (per command type).",
	}, []string{"type"})

	connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_mqtt_connection_count",
		Help: "The number of MQTT broker connection state changes (connected or lost).",
	}, []string{"state"})
)

// reasons for which an MQTT message does not result in an event
const (
	rejectUnmarshal     = "unmarshal"
	rejectTopicMismatch = "topic_mismatch"
	rejectClosed        = "closed"
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

func connectionCounter(state string) prometheus.Counter {
	return connections.With(prometheus.Labels{"state": state})
}
