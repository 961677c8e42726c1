package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator"
	"github.com/brocaar/chirpstack-network-simulator/internal/storage"
)

// healthChecker is implemented by the event backends which can report the
// state of their broker connection.
type healthChecker interface {
	HealthCheck() error
}

type componentCheck struct {
	name  string
	check func(ctx context.Context) error
}

// componentChecks returns the checks for the components which are set up.
func componentChecks() []componentCheck {
	var out []componentCheck

	if c := storage.RedisClient(); c != nil {
		out = append(out, componentCheck{"redis", func(ctx context.Context) error {
			return errors.Wrap(c.Ping(ctx).Err(), "ping error")
		}})
	}

	if hc, ok := simulator.Backend().(healthChecker); ok {
		out = append(out, componentCheck{"event_backend", func(ctx context.Context) error {
			return hc.HealthCheck()
		}})
	}

	return out
}

// healthCheckHandlerFunc reports one line per component. The status is 503
// when one of the components is unhealthy.
func healthCheckHandlerFunc(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	var lines []string

	for _, c := range componentChecks() {
		if err := c.check(r.Context()); err != nil {
			log.WithError(err).WithField("component", c.name).Warning("monitoring: healthcheck failed")
			status = http.StatusServiceUnavailable
			lines = append(lines, fmt.Sprintf("%s: %s", c.name, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: ok", c.name))
	}

	w.WriteHeader(status)
	w.Write([]byte(strings.Join(lines, "\n")))
}
