package controller

import (
	"github.com/brocaar/lorawan"
)

// ACKComponent acknowledges confirmed uplinks.
type ACKComponent struct{}

// NewACKComponent creates a new ACKComponent.
func NewACKComponent() *ACKComponent {
	return &ACKComponent{}
}

// OnReceivedPacket sets the ACK bit of the reply frame header when the
// uplink was confirmed.
func (a *ACKComponent) OnReceivedPacket(ctx *UplinkContext) error {
	if !ctx.Uplink.Confirmed {
		return nil
	}

	if err := ctx.Store.SetReplyMACHeader(ctx.Uplink.DevAddr, lorawan.MHDR{
		MType: lorawan.UnconfirmedDataDown,
		Major: lorawan.LoRaWANR1,
	}); err != nil {
		return err
	}

	return ctx.Store.SetReplyFrameHeader(ctx.Uplink.DevAddr, lorawan.FHDR{
		DevAddr: ctx.Uplink.DevAddr,
		FCtrl: lorawan.FCtrl{
			ACK: true,
		},
	})
}

// BeforeSendingReply is a no-op.
func (a *ACKComponent) BeforeSendingReply(ctx *WindowContext) error {
	return nil
}
