package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/event-booking/pkg/db"
	"github.com/you/event-booking/services/event-service/internal/domain"
)

var (
	ErrNotFound     = errors.New("event_not_found")
	ErrInsufficient = errors.New("insufficient_tickets")
	ErrExists       = errors.New("event_exists")
)

type EventRepo struct {
	db *gorm.DB
}

func NewEventRepo(db *gorm.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Event{}, &domain.Reservation{})
}

// Create inserts a new event and fails with ErrExists if the id is taken.
func (r *EventRepo) Create(ctx context.Context, e *domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

// Upsert creates the event or overwrites its title and ticket count.
func (r *EventRepo) Upsert(ctx context.Context, e *domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "available_tickets", "updated_at"}),
	}).Create(e).Error
}

func (r *EventRepo) ByID(ctx context.Context, id string) (*domain.Event, error) {
	var e domain.Event
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *EventRepo) SetAvailability(ctx context.Context, id string, n int) (*domain.Event, error) {
	return r.adjust(ctx, id, func(tx *gorm.DB) error {
		return apply(tx, id, func(q *gorm.DB) *gorm.DB {
			return q.Where("id = ?", id).Update("available_tickets", n)
		})
	})
}

// Reserve decrements availability only if enough tickets remain, in a single
// conditional UPDATE so concurrent reservations cannot oversell. With a key
// the reservation is recorded and a repeat with the same key changes nothing.
func (r *EventRepo) Reserve(ctx context.Context, id string, n int, key string) (*domain.Event, error) {
	e, err := r.adjust(ctx, id, func(tx *gorm.DB) error {
		if key != "" {
			var prev domain.Reservation
			err := tx.Take(&prev, "id = ?", key).Error
			if err == nil {
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if err := apply(tx, id, take(id, n)); err != nil {
			return err
		}
		if key == "" {
			return nil
		}
		return tx.Create(&domain.Reservation{ID: key, EventID: id, Tickets: n}).Error
	})
	if err != nil && key != "" && db.IsUniqueViolation(err) {
		// a concurrent reserve with the same key committed first
		return r.ByID(ctx, id)
	}
	return e, err
}

// Release gives n tickets back. With a key it returns exactly what that
// reservation took, once; an unknown key is a no-op.
func (r *EventRepo) Release(ctx context.Context, id string, n int, key string) (*domain.Event, error) {
	return r.adjust(ctx, id, func(tx *gorm.DB) error {
		if key == "" {
			return apply(tx, id, give(id, n))
		}
		var res domain.Reservation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&res, "id = ? AND event_id = ?", key, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&res).Error; err != nil {
			return err
		}
		return apply(tx, id, give(id, res.Tickets))
	})
}

func take(id string, n int) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("id = ? AND available_tickets >= ?", id, n).
			Update("available_tickets", gorm.Expr("available_tickets - ?", n))
	}
}

func give(id string, n int) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("id = ?", id).
			Update("available_tickets", gorm.Expr("available_tickets + ?", n))
	}
}

// adjust runs fn in a transaction and returns the event as it stands after.
func (r *EventRepo) adjust(ctx context.Context, id string, fn func(tx *gorm.DB) error) (*domain.Event, error) {
	var e domain.Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.First(&e, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// apply runs one conditional update. No affected row means the event is
// missing or the condition failed.
func apply(tx *gorm.DB, id string, update func(*gorm.DB) *gorm.DB) error {
	res := update(tx.Model(&domain.Event{}))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var e domain.Event
	if err := tx.Select("id").First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return ErrInsufficient
}
