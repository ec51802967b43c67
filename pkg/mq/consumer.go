package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	conn  *Conn
	queue string
	tag   string
}

func NewConsumer(conn *Conn, queue, tag string) *Consumer {
	return &Consumer{conn: conn, queue: queue, tag: tag}
}

func (c *Consumer) Queue() string { return c.queue }

// Deliveries blocks until the connection is ready, then opens a manual-ack
// consumer. The returned channel closes when the connection is lost; call
// Deliveries again to resume.
func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.conn.Ready():
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return msgs, nil
}
