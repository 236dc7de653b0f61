// Package chatbus is an optional fan-out of this client's chat traffic to
// external tooling over NATS, using github.com/nats-io/nats.go. This
// module never hosts an embedded NATS server — it only ever connects out
// to one an operator already runs, so this is just a thin publishing
// client.
package chatbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher fans chat lines out to a NATS subject. A nil *Publisher is
// valid and every method becomes a no-op, so callers don't need to branch
// on whether the chat bus is enabled.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials url and returns a Publisher that publishes to subject. Returns
// an error if url is unreachable.
func Connect(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// Close releases the underlying connection. Safe to call on a nil Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// Line is one chat event published to the bus, covering both directions.
type Line struct {
	Direction string // "incoming" or "outgoing"
	Channel   uint32
	From      string
	Text      string
}

// Publish fans line out as JSON. Errors are returned, not logged, so the
// caller can decide whether a publish failure should affect anything
// beyond the bus itself (it never should block chat delivery to the user).
func (p *Publisher) Publish(line Line) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := encodeLine(line)
	if err != nil {
		return fmt.Errorf("encoding chat bus line: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}
