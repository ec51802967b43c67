package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Default queue carrying booking notifications.
const QueueBookingNotifications = "booking_notifications"

const (
	TypeEmail = "EMAIL"
	TypeSMS   = "SMS"
)

const (
	BookingConfirmed = "CONFIRMED"
	PaymentPaid      = "PAID"
)

const (
	DeliverySent   = "SENT"
	DeliveryFailed = "FAILED"
)

var ErrMalformed = errors.New("malformed notification payload")

// NotificationTask is published by the booking orchestrator once per booking.
type NotificationTask struct {
	BookingID        string `json:"bookingId"`
	UserEmail        string `json:"userEmail"`
	Status           string `json:"status"`
	NotificationType string `json:"notificationType"`
}

func NewEmailTask(bookingID, email string) NotificationTask {
	return NotificationTask{
		BookingID:        bookingID,
		UserEmail:        email,
		Status:           BookingConfirmed,
		NotificationType: TypeEmail,
	}
}

// Unmarshal decodes b into a fresh T.
func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}

// Decode parses a task from the wire. A missing notificationType means EMAIL.
func Decode(b []byte) (NotificationTask, error) {
	t, err := Unmarshal[NotificationTask](b)
	if err != nil {
		return NotificationTask{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(t.BookingID) == "" {
		return NotificationTask{}, fmt.Errorf("%w: bookingId is empty", ErrMalformed)
	}
	if t.NotificationType == "" {
		t.NotificationType = TypeEmail
	}
	return t, nil
}
