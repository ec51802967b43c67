package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/you/event-booking/services/booking-service/internal/domain"
)

type BookingRepo struct{ db *gorm.DB }

func NewBookingRepo(db *gorm.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

func (r *BookingRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Booking{}, &domain.OutboxEntry{})
}

func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(b).Error
}

// CreateWithOutbox writes the booking and its pending side effects atomically.
func (r *BookingRepo) CreateWithOutbox(ctx context.Context, b *domain.Booking, entries []domain.OutboxEntry) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for i := range entries {
			if entries[i].ID == "" {
				entries[i].ID = uuid.NewString()
			}
			entries[i].BookingID = b.ID
			if entries[i].Status == "" {
				entries[i].Status = domain.OutboxPending
			}
		}
		return tx.Create(&entries).Error
	})
}

// ListByUser returns the user's bookings oldest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	var out []domain.Booking
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Pending returns up to limit PENDING entries created before olderThan.
func (r *BookingRepo) Pending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.OutboxEntry
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.OutboxPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BookingRepo) MarkDone(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEntry{}).
		Where("id = ? AND status = ?", id, domain.OutboxPending).
		Update("status", domain.OutboxDone).Error
}

// MarkAttempt records a failed dispatch; failed moves the entry to FAILED.
func (r *BookingRepo) MarkAttempt(ctx context.Context, id, lastErr string, failed bool) error {
	updates := map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastErr,
	}
	if failed {
		updates["status"] = domain.OutboxFailed
	}
	return r.db.WithContext(ctx).Model(&domain.OutboxEntry{}).
		Where("id = ? AND status = ?", id, domain.OutboxPending).
		Updates(updates).Error
}
