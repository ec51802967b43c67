package domain

import "time"

// Event is the inventory side of a catalog entry. AvailableTickets never
// goes below zero through Reserve.
type Event struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	Title            string    `json:"title"`
	AvailableTickets int       `gorm:"not null;check:available_tickets >= 0" json:"availableTickets"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Reservation records a keyed reserve. The key is chosen by the caller (the
// booking id), so a repeated reserve or release with the same key is a no-op.
type Reservation struct {
	ID        string `gorm:"primaryKey"`
	EventID   string `gorm:"not null;index"`
	Tickets   int    `gorm:"not null"`
	CreatedAt time.Time
}

func (Reservation) TableName() string { return "event_reservations" }
