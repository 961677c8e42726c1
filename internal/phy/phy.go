// Package phy implements the LoRa air-interface timing and link-budget
// model (SX1272 / SX1276 modem designer's guide formulas).
package phy

import (
	"fmt"
	"math"
	"time"
)

// Defaults used by the noise model.
const (
	// DefaultNoiseBandwidth is the receiver noise bandwidth in Hz.
	DefaultNoiseBandwidth = 125000

	// DefaultNoiseFigure is the receiver noise figure in dB.
	DefaultNoiseFigure = 6

	// thermal noise density at room temperature in dBm/Hz (negated).
	thermalNoiseDensity = 174
)

// ldroThreshold is the symbol duration above which the low data-rate
// optimization must be enabled.
const ldroThreshold = 16 * time.Millisecond

// requiredSNRTable contains the required SNR to demodulate a LoRa frame for
// the given spreading-factor. Values are taken from the SX1276 datasheet.
var requiredSNRTable = map[int]float64{
	6:  -5,
	7:  -7.5,
	8:  -10,
	9:  -12.5,
	10: -15,
	11: -17.5,
	12: -20,
}

// TXParams holds the modulation parameters of a transmission.
type TXParams struct {
	SpreadingFactor int
	// CodingRate is the coding-rate index: 1 means 4/5, 4 means 4/8.
	CodingRate              int
	BandwidthHz             int
	PreambleSymbols         int
	HeaderDisabled          bool
	CRCEnabled              bool
	LowDataRateOptimization bool
}

// DefaultTXParams returns the default transmission profile: SF7, CR 4/5,
// 125 kHz, 8 preamble symbols, explicit header, CRC on, LDRO off.
func DefaultTXParams() TXParams {
	return TXParams{
		SpreadingFactor: 7,
		CodingRate:      1,
		BandwidthHz:     125000,
		PreambleSymbols: 8,
		CRCEnabled:      true,
	}
}

// String implements fmt.Stringer.
func (p TXParams) String() string {
	return fmt.Sprintf("SF%dBW%d CR4/%d", p.SpreadingFactor, p.BandwidthHz/1000, p.CodingRate+4)
}

// SymbolDuration returns the duration of a single LoRa symbol.
func SymbolDuration(sf, bandwidthHz int) time.Duration {
	return seconds(symbolSeconds(sf, bandwidthHz))
}

// NeedsLowDataRateOptimization returns true when the symbol duration for the
// given spreading-factor and bandwidth exceeds 16ms.
func NeedsLowDataRateOptimization(sf, bandwidthHz int) bool {
	return SymbolDuration(sf, bandwidthHz) > ldroThreshold
}

// OnAirTime returns the time-on-air of a frame carrying payloadBytes bytes.
// It panics when the parameters result in a non-positive symbol
// denominator (e.g. SF2 with LDRO enabled).
func OnAirTime(payloadBytes int, p TXParams) time.Duration {
	tSym := symbolSeconds(p.SpreadingFactor, p.BandwidthHz)
	preamble := (float64(p.PreambleSymbols) + 4.25) * tSym

	num := 8*payloadBytes - 4*p.SpreadingFactor + 28 + 16*boolToInt(p.CRCEnabled) - 20*boolToInt(p.HeaderDisabled)
	den := 4 * (p.SpreadingFactor - 2*boolToInt(p.LowDataRateOptimization))
	if den <= 0 {
		panic(fmt.Sprintf("phy: invalid tx params %s (ldro: %t)", p, p.LowDataRateOptimization))
	}

	payloadSymbols := 8 + math.Max(math.Ceil(float64(num)/float64(den))*float64(p.CodingRate+4), 0)

	return seconds(preamble + payloadSymbols*tSym)
}

// SNRFromPower returns the signal-to-noise ratio (dB) of a reception at
// rxPowerDBm, given the noise bandwidth (Hz) and receiver noise figure (dB).
func SNRFromPower(rxPowerDBm, noiseBandwidthHz, noiseFigureDB float64) float64 {
	return rxPowerDBm + thermalNoiseDensity - 10*math.Log10(noiseBandwidthHz) - noiseFigureDB
}

// RequiredSNR returns the minimum SNR needed to demodulate the given
// spreading-factor.
func RequiredSNR(sf int) (float64, error) {
	snr, ok := requiredSNRTable[sf]
	if !ok {
		return 0, fmt.Errorf("sf %d not in sf to required snr table", sf)
	}
	return snr, nil
}

// LinkMargin returns the margin (dB) above the demodulation floor for a
// reception at rxPowerDBm. Negative values are clamped to 0.
func LinkMargin(rxPowerDBm float64, sf int, noiseBandwidthHz, noiseFigureDB float64) (float64, error) {
	required, err := RequiredSNR(sf)
	if err != nil {
		return 0, err
	}

	margin := SNRFromPower(rxPowerDBm, noiseBandwidthHz, noiseFigureDB) - required
	if margin < 0 {
		margin = 0
	}
	return margin, nil
}

func symbolSeconds(sf, bandwidthHz int) float64 {
	return math.Pow(2, float64(sf)) / float64(bandwidthHz)
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
