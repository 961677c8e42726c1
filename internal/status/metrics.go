package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dg = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "status_device_count",
	Help: "The number of devices registered in the status store.",
})

func deviceGauge() prometheus.Gauge {
	return dg
}
