// Package transport defines the message channel between the drill core
// and the smart targets. The core only depends on the Transport interface;
// implementations (see natslink) are injected.
package transport

import (
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

const (
	ActionNetlinkForward = "netlink_forward"
	// Dest value addressing every target
	DestAll = "all"

	CommandReady = "ready"
	CommandStart = "start"
	CommandEnd   = "end"

	AckReady = "ready"
	AckEnd   = "end"
)

// Message is the outbound envelope.
type Message struct {
	Action  string `json:"action"`
	Dest    string `json:"dest"`
	Content any    `json:"content"`
}

// ReadyContent is sent per target during the readiness handshake.
type ReadyContent struct {
	Command      string  `json:"command"`
	Delay        float64 `json:"delay"`
	TargetType   string  `json:"targetType"`
	Timeout      int     `json:"timeout"`
	CountedShots int     `json:"countedShots"`
	Repeat       int     `json:"repeat"`
	IsFirst      bool    `json:"isFirst"`
	IsLast       bool    `json:"isLast"`
}

// StartContent is broadcast to all targets to start a repeat.
type StartContent struct {
	Command string `json:"command"`
	// shared start delay derived during readiness, empty if none
	DelayTime string `json:"delay_time,omitempty"`
}

// EndContent is broadcast to all targets to end a repeat.
type EndContent struct {
	Command string `json:"command"`
}

func NewReadyMessage(dest string, content ReadyContent) *Message {
	content.Command = CommandReady
	return &Message{Action: ActionNetlinkForward, Dest: dest, Content: content}
}

func NewStartMessage(delayTime string) *Message {
	return &Message{
		Action:  ActionNetlinkForward,
		Dest:    DestAll,
		Content: StartContent{Command: CommandStart, DelayTime: delayTime},
	}
}

func NewEndMessage() *Message {
	return &Message{
		Action:  ActionNetlinkForward,
		Dest:    DestAll,
		Content: EndContent{Command: CommandEnd},
	}
}

// Inbound is the canonical form of a decoded device message. Exactly one
// of the ack/shot aspects is populated.
type Inbound struct {
	// source device identifier
	Device string
	// "ready" or "end" for acknowledgments, empty for shot reports
	Ack string
	// start delay reported with a ready ack ("0" or empty means none)
	DelayTime string
	// duration reported with an end ack
	DrillDuration float64
	// non-nil for shot reports
	Shot *model.ShotRecord
}

// InboundHandler receives every decoded inbound message.
type InboundHandler func(msg *Inbound)

// Transport is the wireless link as seen by the drill core.
// Send is fire-and-forget; there is no delivery guarantee.
type Transport interface {
	IsConnected() bool
	Send(msg *Message) error
	SetHandler(h InboundHandler)
}
