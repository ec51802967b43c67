// Package outbox turns booking side effects into durable entries and
// dispatches them to the event service and the notification queue.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/you/event-booking/pkg/events"
	"github.com/you/event-booking/services/booking-service/internal/domain"
)

type InventoryWriter interface {
	SetAvailability(ctx context.Context, eventID string, available int) (int, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type inventorySet struct {
	EventID          string `json:"eventId"`
	AvailableTickets int    `json:"availableTickets"`
}

func InventorySet(eventID string, available int) (domain.OutboxEntry, error) {
	b, err := json.Marshal(inventorySet{EventID: eventID, AvailableTickets: available})
	if err != nil {
		return domain.OutboxEntry{}, err
	}
	return domain.OutboxEntry{Kind: domain.OutboxInventorySet, Payload: b, Status: domain.OutboxPending}, nil
}

func NotificationPublish(task events.NotificationTask) (domain.OutboxEntry, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return domain.OutboxEntry{}, err
	}
	return domain.OutboxEntry{
		BookingID: task.BookingID,
		Kind:      domain.OutboxNotificationPublish,
		Payload:   b,
		Status:    domain.OutboxPending,
	}, nil
}

// Dispatcher performs one outbox entry. It never retries; the relay does.
type Dispatcher struct {
	inv   InventoryWriter
	pub   Publisher
	queue string
}

func NewDispatcher(inv InventoryWriter, pub Publisher, queue string) *Dispatcher {
	if queue == "" {
		queue = events.QueueBookingNotifications
	}
	return &Dispatcher{inv: inv, pub: pub, queue: queue}
}

func (d *Dispatcher) Dispatch(ctx context.Context, e domain.OutboxEntry) error {
	switch e.Kind {
	case domain.OutboxInventorySet:
		var p inventorySet
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
		if _, err := d.inv.SetAvailability(ctx, p.EventID, p.AvailableTickets); err != nil {
			return fmt.Errorf("update availability for event %s: %w", p.EventID, err)
		}
		return nil
	case domain.OutboxNotificationPublish:
		if !json.Valid(e.Payload) {
			return fmt.Errorf("decode %s payload: invalid json", e.Kind)
		}
		if err := d.pub.PublishJSON(ctx, d.queue, json.RawMessage(e.Payload)); err != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown outbox kind %q", e.Kind)
	}
}
