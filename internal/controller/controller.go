// Package controller implements the network-server reply logic: it decides
// on a reply for every uplink, schedules the first receive-window and stages
// the reply when the window opens.
package controller

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/band"
	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/chirpstack-network-simulator/internal/logging"
	"github.com/brocaar/chirpstack-network-simulator/internal/models"
	"github.com/brocaar/chirpstack-network-simulator/internal/status"
	"github.com/brocaar/lorawan"
)

// uplinkBandwidth is the bandwidth (kHz) used for the uplink data-rate
// lookup.
const uplinkBandwidth = 125

// ErrAbort is used to abort the flow without error.
var ErrAbort = errors.New("nothing to do")

// Component reacts on received packets and contributes to the reply before
// it is staged.
type Component interface {
	OnReceivedPacket(ctx *UplinkContext) error
	BeforeSendingReply(ctx *WindowContext) error
}

// UplinkContext holds the state of a received uplink.
type UplinkContext struct {
	Context context.Context
	Store   *status.Store

	Time   time.Duration
	Uplink events.Uplink
}

// WindowContext holds the state of an opened receive-window.
type WindowContext struct {
	Context context.Context
	Store   *status.Store

	Time          time.Duration
	DevAddr       lorawan.DevAddr
	HandleID      uuid.UUID
	MACCommands   []lorawan.MACCommand
	BestGateways  []models.GatewayPower
	MustSendReply bool
}

var uplinkTasks = []func(*Controller, *UplinkContext) error{
	abortOnRepeatedPacket,
	initializeReply,
	setRX1Parameters,
	runOnReceivedPacket,
	scheduleReceiveWindow,
}

var windowTasks = []func(*Controller, *WindowContext) error{
	abortOnStaleHandle,
	clearScheduledWindow,
	runBeforeSendingReply,
	takeMACCommands,
	abortOnNothingToSend,
	setReplyHeaders,
	getBestGateways,
	stageReply,
}

// Controller holds the reply logic for the devices in the store.
type Controller struct {
	store       *status.Store
	rx1Delay    time.Duration
	rx1DROffset int
	components  []Component
}

// New creates a new Controller. When no components are given, the ACK and
// LinkCheck components are installed.
func New(store *status.Store, rx1Delay time.Duration, rx1DROffset int, components ...Component) *Controller {
	if len(components) == 0 {
		components = []Component{
			NewACKComponent(),
			NewLinkCheckComponent(),
		}
	}

	return &Controller{
		store:       store,
		rx1Delay:    rx1Delay,
		rx1DROffset: rx1DROffset,
		components:  components,
	}
}

// HandleEvent handles the uplink and receive-window events. The store must
// have handled the event before.
func (c *Controller) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.PacketReceivedAtServer:
		uctx := UplinkContext{
			Context: ctx,
			Store:   c.store,
			Time:    e.Time,
			Uplink:  *e.Uplink,
		}
		for _, t := range uplinkTasks {
			if err := t(c, &uctx); err != nil {
				if err == ErrAbort {
					return nil
				}
				return err
			}
		}
	case events.ReceiveWindowOpened:
		wctx := WindowContext{
			Context:  ctx,
			Store:    c.store,
			Time:     e.Time,
			DevAddr:  e.ReceiveWindow.DevAddr,
			HandleID: e.ReceiveWindow.HandleID,
		}
		for _, t := range windowTasks {
			if err := t(c, &wctx); err != nil {
				if err == ErrAbort {
					return nil
				}
				return err
			}
		}
	}

	return nil
}

// CancelReceiveWindow cancels the pending receive-window of the given
// device, if any.
func (c *Controller) CancelReceiveWindow(devAddr lorawan.DevAddr) error {
	return c.store.CancelScheduledWindow(devAddr)
}

// abortOnRepeatedPacket aborts for every copy after the first one the store
// recorded, regardless of the copies of other packets in between.
func abortOnRepeatedPacket(c *Controller, ctx *UplinkContext) error {
	copies, err := c.store.ReceivedCopies(ctx.Uplink.DevAddr, ctx.Uplink.Packet.ID)
	if err != nil {
		return err
	}
	if copies > 1 {
		return ErrAbort
	}
	return nil
}

func initializeReply(c *Controller, ctx *UplinkContext) error {
	return c.store.InitializeReply(ctx.Uplink.DevAddr)
}

func setRX1Parameters(c *Controller, ctx *UplinkContext) error {
	uplinkDR, err := band.UplinkDataRate(ctx.Uplink.ReceivedSpreadingFactor(), uplinkBandwidth)
	if err != nil {
		return err
	}

	rx1DR, err := band.Band().GetRX1DataRateIndex(uplinkDR, c.rx1DROffset)
	if err != nil {
		return errors.Wrap(err, "get rx1 data-rate index error")
	}

	rx1Freq, err := band.Band().GetRX1FrequencyForUplinkFrequency(ctx.Uplink.Frequency)
	if err != nil {
		return errors.Wrap(err, "get rx1 frequency error")
	}

	return c.store.SetRX1Parameters(ctx.Uplink.DevAddr, rx1DR, rx1Freq)
}

func runOnReceivedPacket(c *Controller, ctx *UplinkContext) error {
	for _, comp := range c.components {
		if err := comp.OnReceivedPacket(ctx); err != nil {
			return err
		}
	}
	return nil
}

func scheduleReceiveWindow(c *Controller, ctx *UplinkContext) error {
	_, pending, err := c.store.ScheduledWindow(ctx.Uplink.DevAddr)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return errors.Wrap(err, "new uuid error")
	}

	return c.store.ScheduleReceiveWindowOnce(ctx.Uplink.DevAddr, events.WindowHandle{
		ID:      id,
		OpensAt: ctx.Time + c.rx1Delay,
	})
}

func abortOnStaleHandle(c *Controller, ctx *WindowContext) error {
	h, pending, err := c.store.ScheduledWindow(ctx.DevAddr)
	if err != nil {
		return err
	}
	if !pending || h.ID != ctx.HandleID {
		log.WithFields(log.Fields{
			"dev_addr":  ctx.DevAddr,
			"handle_id": ctx.HandleID,
			"ctx_id":    ctx.Context.Value(logging.ContextIDKey),
		}).Debug("controller: ignoring stale receive window")
		return ErrAbort
	}
	return nil
}

func clearScheduledWindow(c *Controller, ctx *WindowContext) error {
	return c.store.ClearScheduledWindow(ctx.DevAddr)
}

func runBeforeSendingReply(c *Controller, ctx *WindowContext) error {
	for _, comp := range c.components {
		if err := comp.BeforeSendingReply(ctx); err != nil {
			return err
		}
	}
	return nil
}

func takeMACCommands(c *Controller, ctx *WindowContext) error {
	cmds, err := c.store.TakeMACCommands(ctx.DevAddr)
	if err != nil {
		return err
	}
	ctx.MACCommands = cmds

	needsReply, err := c.store.NeedsReply(ctx.DevAddr)
	if err != nil {
		return err
	}
	ctx.MustSendReply = needsReply || len(cmds) != 0
	return nil
}

func abortOnNothingToSend(c *Controller, ctx *WindowContext) error {
	if !ctx.MustSendReply {
		log.WithFields(log.Fields{
			"dev_addr": ctx.DevAddr,
			"ctx_id":   ctx.Context.Value(logging.ContextIDKey),
		}).Debug("controller: no reply needed")
		return ErrAbort
	}
	return nil
}

func setReplyHeaders(c *Controller, ctx *WindowContext) error {
	reply, err := c.store.GetReply(ctx.DevAddr)
	if err != nil {
		return err
	}

	fhdr := reply.FrameHeader
	fhdr.DevAddr = ctx.DevAddr
	for i := range ctx.MACCommands {
		fhdr.FOpts = append(fhdr.FOpts, &ctx.MACCommands[i])
	}

	if err := c.store.SetReplyMACHeader(ctx.DevAddr, lorawan.MHDR{
		MType: lorawan.UnconfirmedDataDown,
		Major: lorawan.LoRaWANR1,
	}); err != nil {
		return err
	}

	return c.store.SetReplyFrameHeader(ctx.DevAddr, fhdr)
}

func getBestGateways(c *Controller, ctx *WindowContext) error {
	gws, err := c.store.GetBestGatewaysByPower(ctx.DevAddr)
	if err != nil {
		return err
	}
	ctx.BestGateways = gws
	return nil
}

func stageReply(c *Controller, ctx *WindowContext) error {
	gatewayID := ctx.BestGateways[0].GatewayID
	if err := c.store.StageReply(ctx.DevAddr, gatewayID); err != nil {
		return err
	}
	replyCounter().Inc()

	log.WithFields(log.Fields{
		"dev_addr":     ctx.DevAddr,
		"gateway_id":   gatewayID,
		"mac_commands": len(ctx.MACCommands),
		"ctx_id":       ctx.Context.Value(logging.ContextIDKey),
	}).Info("controller: reply staged")
	return nil
}
