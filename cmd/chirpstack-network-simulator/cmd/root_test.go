package cmd

import (
	"bytes"
	"testing"
	"text/template"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-network-simulator/internal/config"
	"github.com/brocaar/chirpstack-network-simulator/internal/test"
)

func TestConfigTemplate(t *testing.T) {
	assert := require.New(t)

	conf := test.GetConfig()
	conf.Redis.Servers = []string{"localhost:6379"}

	var buf bytes.Buffer
	tmpl := template.Must(template.New("config").Parse(configTemplate))
	assert.NoError(tmpl.Execute(&buf, &conf))

	out := buf.String()
	assert.Contains(out, `name="EU868"`)
	assert.Contains(out, `aggregation_intervals=["MINUTE", "HOUR", "DAY", "MONTH"]`)
	assert.Contains(out, `"localhost:6379",`)
}

func TestTXProfile(t *testing.T) {
	assert := require.New(t)

	config.C = test.GetConfig()
	config.C.Simulator.PHY.CodingRate = 4
	config.C.Simulator.PHY.HeaderDisabled = true

	p := txProfile()
	assert.Equal(125000, p.BandwidthHz)
	assert.Equal(4, p.CodingRate)
	assert.Equal(8, p.PreambleSymbols)
	assert.True(p.HeaderDisabled)
	assert.True(p.CRCEnabled)
}
