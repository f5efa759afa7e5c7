// Package events publishes domain events about stored documents and
// conversation turns to NATS.
//
// Events are notifications, not a durable log: a publish failure is logged
// and never fails the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix prefixes every subject unless configured otherwise.
const DefaultSubjectPrefix = "mediarag"

// Type names an event. The subject of an event is "<prefix>.<type>".
type Type string

const (
	DocumentsStored  Type = "documents.stored"
	DocumentsCleared Type = "documents.cleared"
	ConversationTurn Type = "conversation.turn"
)

// Event is the JSON payload of a published message.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Time       time.Time `json:"time"`
	Collection string    `json:"collection,omitempty"`
	Count      int       `json:"count"`
	IDs        []string  `json:"ids,omitempty"`
	// Sources summarises the context of a conversation turn.
	Sources string `json:"sources,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. It is used when no NATS URL is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// NATSPublisher publishes events as core NATS messages.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	owned  bool
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("mediarag"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher publishes over an existing connection, which the caller
// keeps ownership of.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject events of type t are published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish fills in the event ID and time when missing and publishes e.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("event_id", e.ID))
	return nil
}

// Close flushes pending messages and closes the connection if the publisher
// opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	err := p.nc.FlushTimeout(2 * time.Second)
	p.nc.Close()
	if err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}
