package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

type Publisher struct {
	conn     *Conn
	exchange string
}

// NewPublisher publishes through conn. An empty exchange is the broker's
// default exchange, where the routing key is the queue name.
func NewPublisher(conn *Conn, exchange string) *Publisher {
	return &Publisher{conn: conn, exchange: exchange}
}

// PublishJSON sends v as a persistent message. It fails fast with
// ErrNotReady while the connection is down; it never retries.
func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	msg, err := jsonPublishing(ctx, v)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// jsonPublishing encodes v and carries the trace context of ctx in headers.
func jsonPublishing(ctx context.Context, v any) (amqp.Publishing, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode message: %w", err)
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         b,
	}, nil
}
