package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/clock"
	"github.com/you/event-booking/services/booking-service/internal/domain"
)

const errNotReplayable = "absolute inventory writes are not replayed"

type Store interface {
	Pending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OutboxEntry, error)
	MarkDone(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id, lastErr string, failed bool) error
}

type RelayConfig struct {
	Interval    time.Duration
	Batch       int
	MaxAttempts int
	// Grace keeps the relay away from entries the request path is still
	// dispatching inline.
	Grace time.Duration
}

type Relay struct {
	store Store
	disp  *Dispatcher
	clk   clock.Clock
	cfg   RelayConfig
	log   *zap.Logger
}

func NewRelay(store Store, disp *Dispatcher, clk clock.Clock, cfg RelayConfig, log *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{store: store, disp: disp, clk: clk, cfg: cfg, log: log.Named("outbox")}
}

func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("grace", r.cfg.Grace),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				r.log.Error("outbox tick failed", zap.Error(err))
			}
		}
	}
}

// Tick drains one batch and returns how many entries were delivered.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	entries, err := r.store.Pending(ctx, r.clk.Now().Add(-r.cfg.Grace), r.cfg.Batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if e.Kind == domain.OutboxInventorySet {
			// a stale absolute count would undo every booking made since
			if err := r.store.MarkAttempt(ctx, e.ID, errNotReplayable, true); err != nil {
				r.log.Error("outbox mark attempt failed", zap.String("entry_id", e.ID), zap.Error(err))
			}
			r.log.Warn("outbox entry dropped", zap.String("entry_id", e.ID), zap.String("kind", e.Kind))
			continue
		}
		if err := r.disp.Dispatch(ctx, e); err != nil {
			failed := e.Attempts+1 >= r.cfg.MaxAttempts
			if merr := r.store.MarkAttempt(ctx, e.ID, err.Error(), failed); merr != nil {
				r.log.Error("outbox mark attempt failed", zap.String("entry_id", e.ID), zap.Error(merr))
			}
			lvl := r.log.Warn
			if failed {
				lvl = r.log.Error
			}
			lvl("outbox dispatch failed",
				zap.String("entry_id", e.ID),
				zap.String("booking_id", e.BookingID),
				zap.String("kind", e.Kind),
				zap.Int("attempts", e.Attempts+1),
				zap.Bool("gave_up", failed),
				zap.Error(err),
			)
			continue
		}
		if err := r.store.MarkDone(ctx, e.ID); err != nil {
			r.log.Error("outbox mark done failed", zap.String("entry_id", e.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}
