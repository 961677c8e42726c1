package controller

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/logging"
	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
	"github.com/brocaar/lorawan"
)

// maxLinkMargin is the highest margin a LinkCheckAns can carry.
const maxLinkMargin = 254

// LinkCheckComponent answers LinkCheckReq mac-commands. The answer is
// computed when the receive-window opens, so that it covers every gateway
// that received the last uplink.
type LinkCheckComponent struct {
	// NoiseBandwidth (Hz) and NoiseFigure (dB) of the gateway receivers.
	NoiseBandwidth float64
	NoiseFigure    float64

	pending map[lorawan.DevAddr]struct{}
}

// NewLinkCheckComponent creates a new LinkCheckComponent.
func NewLinkCheckComponent() *LinkCheckComponent {
	return &LinkCheckComponent{
		NoiseBandwidth: phy.DefaultNoiseBandwidth,
		NoiseFigure:    phy.DefaultNoiseFigure,
		pending:        make(map[lorawan.DevAddr]struct{}),
	}
}

// OnReceivedPacket remembers the LinkCheckReq of the uplink.
func (l *LinkCheckComponent) OnReceivedPacket(ctx *UplinkContext) error {
	if ctx.Uplink.LinkCheckReq {
		l.pending[ctx.Uplink.DevAddr] = struct{}{}
	}
	return nil
}

// BeforeSendingReply queues the LinkCheckAns mac-command.
func (l *LinkCheckComponent) BeforeSendingReply(ctx *WindowContext) error {
	if _, ok := l.pending[ctx.DevAddr]; !ok {
		return nil
	}
	delete(l.pending, ctx.DevAddr)

	_, info, err := ctx.Store.GetLastReceivedPacketInfo(ctx.DevAddr)
	if err != nil {
		return err
	}

	rxPower := math.Inf(-1)
	for _, rec := range info.Gateways {
		if rec.RXPower > rxPower {
			rxPower = rec.RXPower
		}
	}

	margin, err := phy.LinkMargin(rxPower, info.SpreadingFactor, l.NoiseBandwidth, l.NoiseFigure)
	if err != nil {
		return err
	}
	if margin > maxLinkMargin {
		margin = maxLinkMargin
	}

	log.WithFields(log.Fields{
		"dev_addr": ctx.DevAddr,
		"margin":   margin,
		"gw_cnt":   len(info.Gateways),
		"ctx_id":   ctx.Context.Value(logging.ContextIDKey),
	}).Debug("controller: answering link check request")

	return ctx.Store.AddMACCommand(ctx.DevAddr, lorawan.MACCommand{
		CID: lorawan.LinkCheckAns,
		Payload: &lorawan.LinkCheckAnsPayload{
			Margin: uint8(margin),
			GwCnt:  uint8(len(info.Gateways)),
		},
	})
}
