package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rc = promauto.NewCounter(prometheus.CounterOpts{
	Name: "controller_reply_staged_count",
	Help: "The number of replies staged by the network-server controller.",
})

func replyCounter() prometheus.Counter {
	return rc
}
