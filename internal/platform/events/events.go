// Package events publishes domain events (appointment created, moved,
// status changed) for consumers outside the request path.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher sends an event of the given type; eventType doubles as the
// routing key.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// NewEnvelope marshals data into an Envelope stamped with now.
func NewEnvelope(eventType string, data any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: now.UTC(),
		Data:       raw,
	}, nil
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// confirmation is the broker's pending answer for one published message.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishChannel interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// amqpChannel ties every publish to its own delivery tag, so a confirm
// that arrives after its caller gave up is never read by the next caller.
type amqpChannel struct{ *amqp.Channel }

func (c amqpChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

// AMQPPublisher publishes persistent messages to a topic exchange and waits
// for the broker's confirm.
type AMQPPublisher struct {
	conn     io.Closer
	ch       publishChannel
	exchange string
	logger   zerolog.Logger
	now      func() time.Time
}

// DialAMQP connects, declares the durable topic exchange and enables
// publisher confirms.
func DialAMQP(url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return newAMQPPublisher(conn, amqpChannel{ch}, exchange, logger), nil
}

func newAMQPPublisher(conn io.Closer, ch publishChannel, exchange string, logger zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger, now: time.Now}
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, data any) error {
	env, err := NewEnvelope(eventType, data, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	conf, err := p.ch.publish(ctx, p.exchange, eventType, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    env.ID,
		Type:         eventType,
		Timestamp:    env.OccurredAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked message", eventType)
	}
	p.logger.Debug().Str("event", eventType).Str("event_id", env.ID).Msg("event published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Envelope
}

func (r *Recorder) Publish(_ context.Context, eventType string, data any) error {
	env, err := NewEnvelope(eventType, data, time.Now())
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.Events = append(r.Events, env)
	r.mu.Unlock()
	return nil
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
