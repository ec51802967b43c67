package worker

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/events"
	"github.com/you/event-booking/pkg/mq"
)

const tracerName = "notification-service/worker"

// Source hands out a delivery stream; *mq.Consumer is the production one.
type Source interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
	Queue() string
}

type Consumer struct {
	src   Source
	proc  *Processor
	log   *zap.Logger
	retry time.Duration
}

func NewConsumer(src Source, proc *Processor, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{src: src, proc: proc, log: log.Named("worker"), retry: time.Second}
}

// Run consumes until ctx ends. When the connection drops the deliveries
// channel closes and Run subscribes again once the connection is back.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msgs, err := c.src.Deliveries(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("consume failed, retrying", zap.String("queue", c.src.Queue()), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retry):
			}
			continue
		}
		c.log.Info("consuming", zap.String("queue", c.src.Queue()))

		if done := c.drain(ctx, msgs); done {
			return nil
		}
		c.log.Warn("deliveries closed, resubscribing")
	}
}

func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-msgs:
			if !ok {
				return false
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery processes d and settles it:
//   - processed (SENT, FAILED or duplicate): ack
//   - malformed first time: nack + requeue
//   - malformed and already redelivered: nack without requeue (dead-letter)
//   - store or unexpected error: nack + requeue
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, mq.HeaderCarrier(d.Headers))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "notification.process")
	defer span.End()

	log := c.log.With(zap.String("message_id", d.MessageId), zap.Bool("redelivered", d.Redelivered))

	task, err := events.Decode(d.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed")
		requeue := !d.Redelivered
		log.Warn("malformed notification", zap.Bool("requeue", requeue), zap.Error(err))
		if nerr := d.Nack(false, requeue); nerr != nil {
			log.Error("nack failed", zap.Error(nerr))
		}
		return
	}
	span.SetAttributes(
		attribute.String("booking.id", task.BookingID),
		attribute.String("notification.type", task.NotificationType),
	)
	log = log.With(zap.String("booking_id", task.BookingID), zap.String("type", task.NotificationType))

	rec, dup, err := c.proc.Process(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		log.Error("handle error -> nack & requeue", zap.Error(err))
		if nerr := d.Nack(false, true); nerr != nil {
			log.Error("nack failed", zap.Error(nerr))
		}
		return
	}
	if dup {
		log.Info("already delivered, skipping")
	} else {
		log.Info("notification saved", zap.String("status", rec.DeliveryStatus))
	}
	if aerr := d.Ack(false); aerr != nil && !errors.Is(aerr, amqp.ErrClosed) {
		log.Error("ack failed", zap.Error(aerr))
	}
}
