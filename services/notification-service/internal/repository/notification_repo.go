package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/event-booking/services/notification-service/internal/domain"
)

type NotificationRepo struct{ db *gorm.DB }

func NewNotificationRepo(db *gorm.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.NotificationRecord{})
}

// Find returns nil, nil when no record exists for the key.
func (r *NotificationRepo) Find(ctx context.Context, bookingID, notificationType string) (*domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	err := r.db.WithContext(ctx).
		Where("booking_id = ? AND notification_type = ?", bookingID, notificationType).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert inserts rec or, when the (booking, type) key exists, overwrites the
// outcome and bumps attempts. rec is refreshed from the stored row.
func (r *NotificationRepo) Upsert(ctx context.Context, rec *domain.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Attempts == 0 {
		rec.Attempts = 1
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, rec); err != nil {
			return err
		}
		var stored domain.NotificationRecord
		if err := tx.Where("booking_id = ? AND notification_type = ?", rec.BookingID, rec.NotificationType).
			Take(&stored).Error; err != nil {
			return err
		}
		*rec = stored
		return nil
	})
}

func upsert(tx *gorm.DB, rec *domain.NotificationRecord) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "booking_id"}, {Name: "notification_type"}},
		DoUpdates: clause.Assignments(map[string]any{
			"user_email":      rec.UserEmail,
			"delivery_status": rec.DeliveryStatus,
			"message":         rec.Message,
			"attempts":        gorm.Expr("notifications.attempts + 1"),
			"updated_at":      gorm.Expr("now()"),
		}),
	}).Create(rec).Error
}

func (r *NotificationRepo) ListByBooking(ctx context.Context, bookingID string) ([]domain.NotificationRecord, error) {
	var out []domain.NotificationRecord
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
