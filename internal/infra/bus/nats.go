// Package bus publishes monitoring events to NATS.
package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher sends JSON events to NATS subjects.
type Publisher struct {
	Conn *nats.Conn
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("apiwatch"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{Conn: conn}, nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

// Publish sends raw bytes on subject.
func (p *Publisher) Publish(subject string, data []byte) error {
	return p.Conn.Publish(subject, data)
}
