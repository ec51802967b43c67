package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/events"
	"github.com/you/event-booking/services/notification-service/internal/domain"
	"github.com/you/event-booking/services/notification-service/internal/notifier"
)

type Store interface {
	Find(ctx context.Context, bookingID, notificationType string) (*domain.NotificationRecord, error)
	Upsert(ctx context.Context, rec *domain.NotificationRecord) error
}

// Processor delivers one task and records the outcome. A returned error
// means nothing durable happened and the message should come back.
type Processor struct {
	store    Store
	notifier notifier.Notifier
	log      *zap.Logger
}

func NewProcessor(store Store, n notifier.Notifier, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{store: store, notifier: n, log: log}
}

// Process returns the stored record. duplicate is true when an earlier
// delivery already succeeded and nothing was sent this time.
func (p *Processor) Process(ctx context.Context, task events.NotificationTask) (rec *domain.NotificationRecord, duplicate bool, err error) {
	prev, err := p.store.Find(ctx, task.BookingID, task.NotificationType)
	if err != nil {
		return nil, false, fmt.Errorf("lookup notification: %w", err)
	}
	if prev != nil && prev.DeliveryStatus == events.DeliverySent {
		return prev, true, nil
	}

	rec = &domain.NotificationRecord{
		BookingID:        task.BookingID,
		NotificationType: task.NotificationType,
		UserEmail:        task.UserEmail,
	}
	msg, err := notifier.Compose(task)
	if err == nil {
		err = p.notifier.Notify(msg)
	}
	if err != nil {
		rec.DeliveryStatus = events.DeliveryFailed
		rec.Message = notifier.FailureText(task, err)
		p.log.Warn("notification not delivered",
			zap.String("booking_id", task.BookingID),
			zap.String("type", task.NotificationType),
			zap.Error(err),
		)
	} else {
		rec.DeliveryStatus = events.DeliverySent
		rec.Message = msg.Summary
	}

	if err := p.store.Upsert(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("save notification: %w", err)
	}
	return rec, false, nil
}
