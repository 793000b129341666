// Package events publishes server lifecycle events to NATS for external
// observers. A nil *Publisher disables publishing entirely; every method
// is safe to call on nil, so callers never need guards.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types published on the lifecycle subject.
const (
	TypeClientConnected    = "client.connected"
	TypeClientDisconnected = "client.disconnected"
	TypeInstanceStarted    = "instance.started"
	TypeInstanceEnded      = "instance.ended"
	TypeInstanceExecuted   = "instance.executed"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	Client    string    `json:"client,omitempty"`
	Instance  string    `json:"instance,omitempty"`
	Component string    `json:"component,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes lifecycle events. Publishing is best-effort: a
// failed publish is logged and dropped, never surfaced to the client
// session that triggered it.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// New creates a Publisher on an established NATS connection. Returns nil
// when nc is nil, which disables publishing.
func New(nc *nats.Conn, subject string, logger *slog.Logger) *Publisher {
	if nc == nil {
		return nil
	}
	if subject == "" {
		subject = "aserver.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		nc:      nc,
		subject: subject,
		logger:  logger.With("component", "events"),
	}
}

func (p *Publisher) publish(ev Event) {
	if p == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Warn("publish event", "type", ev.Type, "error", err)
	}
}

// ClientConnected reports a new client session.
func (p *Publisher) ClientConnected(client string) {
	p.publish(Event{Type: TypeClientConnected, Client: client})
}

// ClientDisconnected reports the end of a client session.
func (p *Publisher) ClientDisconnected(client string) {
	p.publish(Event{Type: TypeClientDisconnected, Client: client})
}

// InstanceStarted reports a started component instance.
func (p *Publisher) InstanceStarted(client, instance, component string) {
	p.publish(Event{
		Type: TypeInstanceStarted, Client: client,
		Instance: instance, Component: component,
	})
}

// InstanceEnded reports an ended component instance.
func (p *Publisher) InstanceEnded(client, instance string) {
	p.publish(Event{Type: TypeInstanceEnded, Client: client, Instance: instance})
}

// InstanceExecuted reports a completed execute command.
func (p *Publisher) InstanceExecuted(client, instance string) {
	p.publish(Event{Type: TypeInstanceExecuted, Client: client, Instance: instance})
}
