// Package natslink implements the target transport on top of a NATS
// connection. Outbound messages are published to netlink.forward.<dest>,
// inbound device reports are consumed from netlink.report.*.
package natslink

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/transport"
)

const (
	forwardSubjectPattern = "netlink.forward.%s"
	reportSubject         = "netlink.report.*"
)

type (
	NatsLink struct {
		conn    *nats.Conn
		l       *log.Logger
		mutex   sync.Mutex
		handler transport.InboundHandler
		sub     *nats.Subscription
	}
	Option func(*NatsLink)
)

func WithLogger(l *log.Logger) Option {
	return func(n *NatsLink) {
		n.l = l
	}
}

func New(conn *nats.Conn, opts ...Option) (*NatsLink, error) {
	ret := &NatsLink{
		conn: conn,
		l:    log.Default().Named("natslink"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	sub, err := conn.Subscribe(reportSubject, ret.onReport)
	if err != nil {
		return nil, fmt.Errorf("could not subscribe %s: %w", reportSubject, err)
	}
	ret.sub = sub
	return ret, nil
}

func (n *NatsLink) IsConnected() bool {
	return n.conn != nil && n.conn.IsConnected()
}

// Send publishes the message to the subject of its destination.
// Fire-and-forget: a successful publish says nothing about delivery.
func (n *NatsLink) Send(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}
	subject := fmt.Sprintf(forwardSubjectPattern, msg.Dest)
	n.l.Debug("publish",
		log.String("subject", subject),
		log.Int("dataLen", len(data)))
	return n.conn.Publish(subject, data)
}

func (n *NatsLink) SetHandler(h transport.InboundHandler) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.handler = h
}

func (n *NatsLink) Close() {
	if n.sub != nil {
		//nolint:errcheck // by design
		n.sub.Unsubscribe()
	}
}

func (n *NatsLink) onReport(msg *nats.Msg) {
	inbound, err := transport.DecodeInbound(msg.Data)
	if err != nil {
		// malformed payloads are dropped, never halt the session
		n.l.Warn("dropping undecodable report",
			log.String("subject", msg.Subject),
			log.ErrorField(err))
		return
	}
	n.mutex.Lock()
	handler := n.handler
	n.mutex.Unlock()
	if handler == nil {
		n.l.Debug("no handler attached", log.String("device", inbound.Device))
		return
	}
	handler(inbound)
}
