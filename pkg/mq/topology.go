package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NotificationTopology declares the durable notification queue. When dlx is
// set, rejected messages are dead-lettered into dlq through a fanout
// exchange. Publisher and consumer must declare with identical arguments.
func NotificationTopology(queue, dlx, dlq string) Topology {
	return func(ch *amqp.Channel) error {
		args := amqp.Table{}
		if dlx != "" {
			if err := ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare dlx %s: %w", dlx, err)
			}
			if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare dlq %s: %w", dlq, err)
			}
			if err := ch.QueueBind(dlq, "", dlx, false, nil); err != nil {
				return fmt.Errorf("bind dlq %s: %w", dlq, err)
			}
			args["x-dead-letter-exchange"] = dlx
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		return nil
	}
}
