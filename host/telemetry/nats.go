package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pterm/pterm"
)

// Publisher sends frames to a NATS subject. Until Connect succeeds Send is
// a no-op, so telemetry never blocks the monitor.
type Publisher struct {
	mu      sync.Mutex
	conn    *nats.Conn
	subject string
	enabled bool
}

// NewPublisher creates a disconnected publisher for subject. Diagnostic
// frames go to subject + ".diag".
func NewPublisher(subject string) *Publisher {
	return &Publisher{subject: subject}
}

// Connect dials the server and keeps reconnecting in the background
func (p *Publisher) Connect(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("emu-telemetry"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			pterm.Warning.Printfln("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			pterm.Info.Printfln("NATS reconnected: %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		p.enabled = false
		return fmt.Errorf("connect to NATS: %w", err)
	}
	p.conn = conn
	p.enabled = true
	return nil
}

// Subject returns the subject frame is published on
func (p *Publisher) Subject(frame Frame) string {
	if frame.Type == "diag" {
		return p.subject + ".diag"
	}
	return p.subject
}

// Send publishes frame as JSON
func (p *Publisher) Send(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := p.conn.Publish(p.Subject(frame), data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Subject(frame), err)
	}
	return nil
}

// Close drains pending messages and disconnects
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = false
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	return err
}
