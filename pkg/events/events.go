// Package events publishes platform events (message sent, conversation
// created, escalation raised) to a topic exchange so downstream
// consumers — analytics, audit, CRM sync — can react without coupling to
// the messaging core. Publishing is best-effort.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/agencyos/textline/pkg/logger"
)

const (
	KeyConversationCreated = "conversation.created"
	KeyMessageSent         = "message.sent"
	KeyMessageReceived     = "message.received"
	KeyEscalationRaised    = "escalation.raised"
)

// Envelope wraps every published event.
type Envelope struct {
	ID         string          `json:"id"`
	Key        string          `json:"key"`
	AgencyID   string          `json:"agency_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher emits platform events.
type Publisher interface {
	Publish(ctx context.Context, key, agencyID string, payload any) error
	Close() error
}

// NopPublisher drops events; used when the event bus is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, key, agencyID string, payload any) error {
	return nil
}
func (NopPublisher) Close() error { return nil }

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewRabbitPublisher connects to the broker and declares the topic
// exchange.
func NewRabbitPublisher(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &rmqPublisher{conn: conn, exchange: exchange}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key, agencyID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Key:        key,
		AgencyID:   agencyID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.OccurredAt,
		Body:         body,
	})
	if err == nil {
		logger.DebugCF("events", "Event published", map[string]any{
			"key":       key,
			"agency_id": agencyID,
		})
	}
	return err
}

func (p *rmqPublisher) Close() error { return p.conn.Close() }

// Emit publishes best-effort: failures are logged, never propagated.
func Emit(p Publisher, key, agencyID string, payload any) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, key, agencyID, payload); err != nil {
		logger.WarnCF("events", "Event publish failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}
