package domain

import "time"

type Booking struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	UserID        string    `gorm:"index" json:"userId"`
	EventID       string    `gorm:"index" json:"eventId"`
	Tickets       int       `json:"tickets"`
	Status        string    `gorm:"index" json:"status"` // CONFIRMED
	PaymentStatus string    `json:"paymentStatus"`       // PAID (stub)
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

const (
	OutboxInventorySet        = "inventory.set"
	OutboxNotificationPublish = "notification.publish"
)

const (
	OutboxPending = "PENDING"
	OutboxDone    = "DONE"
	OutboxFailed  = "FAILED"
)

// OutboxEntry is a side effect of a booking, written in the same transaction
// as the booking row and drained by the relay.
type OutboxEntry struct {
	ID        string `gorm:"primaryKey"`
	BookingID string `gorm:"index"`
	Kind      string
	Payload   []byte
	Status    string `gorm:"index"` // PENDING|DONE|FAILED
	Attempts  int
	LastError string
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (OutboxEntry) TableName() string { return "booking_outbox" }
