package domain

import "time"

// NotificationRecord is the audit row for one (booking, channel) delivery.
// Redeliveries update the same row instead of adding another.
type NotificationRecord struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	BookingID        string    `gorm:"uniqueIndex:ux_notification_booking_type;not null" json:"bookingId"`
	NotificationType string    `gorm:"uniqueIndex:ux_notification_booking_type;not null" json:"notificationType"`
	UserEmail        string    `json:"userEmail"`
	DeliveryStatus   string    `gorm:"index" json:"deliveryStatus"` // SENT|FAILED
	Message          string    `json:"message"`
	Attempts         int       `gorm:"not null;default:1" json:"attempts"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (NotificationRecord) TableName() string { return "notifications" }
