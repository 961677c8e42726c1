package events

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// CommandType defines the egress command type.
type CommandType string

// Command types.
const (
	StageReply     CommandType = "stage_reply"
	ScheduleWindow CommandType = "schedule_window"
	CancelWindow   CommandType = "cancel_window"
)

// WindowHandle identifies a pending receive-window opportunity in the
// external scheduler.
type WindowHandle struct {
	ID      uuid.UUID     `json:"id"`
	OpensAt time.Duration `json:"opensAt"`
}

// Reply holds the downlink staged for transmission.
type Reply struct {
	MACHeader   []byte        `json:"macHeader"`
	FrameHeader []byte        `json:"frameHeader"`
	Payload     []byte        `json:"payload"`
	GatewayID   lorawan.EUI64 `json:"gatewayID"`
	DR          int           `json:"dr"`
	Frequency   uint32        `json:"frequency"`
}

// Command is a single egress command.
type Command struct {
	Type    CommandType     `json:"type"`
	DevAddr lorawan.DevAddr `json:"devAddr"`

	Reply  *Reply        `json:"reply,omitempty"`
	Window *WindowHandle `json:"window,omitempty"`
}

// MarshalCommand encodes the given command as JSON.
func MarshalCommand(c Command) ([]byte, error) {
	switch c.Type {
	case StageReply:
		if c.Reply == nil {
			return nil, errors.New("reply must not be nil")
		}
	case ScheduleWindow:
		if c.Window == nil {
			return nil, errors.New("window must not be nil")
		}
	case CancelWindow:
	default:
		return nil, errors.Errorf("unknown command type: %s", c.Type)
	}

	return json.Marshal(c)
}

// UnmarshalCommand decodes the given JSON command.
func UnmarshalCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return c, errors.Wrap(err, "unmarshal json error")
	}
	return c, nil
}
