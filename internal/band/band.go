package band

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-network-simulator/internal/config"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

var band loraband.Band

// Setup sets up the band with the given configuration.
func Setup(c config.Config) error {
	bandConfig, err := loraband.GetConfig(c.NetworkServer.Band.Name, c.NetworkServer.Band.RepeaterCompatible, lorawan.DwellTimeNoLimit)
	if err != nil {
		return errors.Wrap(err, "get band config error")
	}
	band = bandConfig
	return nil
}

// Band returns the configured band.
func Band() loraband.Band {
	return band
}

// UplinkDataRate returns the uplink data-rate index for the given LoRa
// spreading-factor and bandwidth (kHz).
func UplinkDataRate(sf, bandwidth int) (int, error) {
	dr, err := band.GetDataRateIndex(true, loraband.DataRate{
		Modulation:   loraband.LoRaModulation,
		SpreadFactor: sf,
		Bandwidth:    bandwidth,
	})
	if err != nil {
		return 0, errors.Wrap(err, "get data-rate index error")
	}
	return dr, nil
}
