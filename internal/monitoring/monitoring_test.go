package monitoring

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator"
	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/test"
)

func TestMux(t *testing.T) {
	tests := []struct {
		name       string
		prometheus bool
		health     bool
		path       string
		status     int
	}{
		{
			name:       "metrics enabled",
			prometheus: true,
			path:       "/metrics",
			status:     http.StatusOK,
		},
		{
			name:   "metrics disabled",
			health: true,
			path:   "/metrics",
			status: http.StatusNotFound,
		},
		{
			name:   "healthcheck without storage",
			health: true,
			path:   "/health",
			status: http.StatusOK,
		},
		{
			name:       "healthcheck disabled",
			prometheus: true,
			path:       "/health",
			status:     http.StatusNotFound,
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)

			conf := test.GetConfig()
			conf.Monitoring.PrometheusEndpoint = tst.prometheus
			conf.Monitoring.HealthcheckEndpoint = tst.health

			server := httptest.NewServer(newMux(conf))
			defer server.Close()

			resp, err := http.Get(server.URL + tst.path)
			assert.NoError(err)
			resp.Body.Close()
			assert.Equal(tst.status, resp.StatusCode)
		})
	}
}

type backend struct {
	err error
}

func (b *backend) EventChan() chan events.Event         { return nil }
func (b *backend) SendCommand(cmd events.Command) error { return nil }
func (b *backend) Close() error                         { return nil }
func (b *backend) HealthCheck() error                   { return b.err }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "backend connected",
			status: http.StatusOK,
			body:   "event_backend: ok",
		},
		{
			name:   "backend disconnected",
			err:    errors.New("mqtt connection is not open"),
			status: http.StatusServiceUnavailable,
			body:   "event_backend: mqtt connection is not open",
		},
	}

	defer simulator.SetBackend(nil)

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)

			simulator.SetBackend(&backend{err: tst.err})

			conf := test.GetConfig()
			conf.Monitoring.HealthcheckEndpoint = true

			server := httptest.NewServer(newMux(conf))
			defer server.Close()

			resp, err := http.Get(server.URL + "/health")
			assert.NoError(err)
			defer resp.Body.Close()

			b, err := ioutil.ReadAll(resp.Body)
			assert.NoError(err)
			assert.Equal(tst.status, resp.StatusCode)
			assert.Equal(tst.body, string(b))
		})
	}
}
