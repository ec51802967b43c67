package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/pkg/clock"
	"github.com/you/event-booking/pkg/events"
	"github.com/you/event-booking/pkg/mq"
	"github.com/you/event-booking/services/booking-service/internal/domain"
	"github.com/you/event-booking/services/booking-service/internal/inventory"
	"github.com/you/event-booking/services/booking-service/internal/outbox"
)

// Mode selects how inventory is taken from the event service.
type Mode string

const (
	// ModeReserve takes tickets with one atomic reserve call before the
	// ledger write and releases them if the write fails.
	ModeReserve Mode = "reserve"
	// ModePatch reads availability, writes the booking, then PATCHes the new
	// count. Concurrent bookings for one event can oversell.
	ModePatch Mode = "patch"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReserve, "":
		return ModeReserve, nil
	case ModePatch:
		return ModePatch, nil
	}
	return "", fmt.Errorf("unknown inventory mode %q", s)
}

type Ledger interface {
	Create(ctx context.Context, b *domain.Booking) error
	CreateWithOutbox(ctx context.Context, b *domain.Booking, entries []domain.OutboxEntry) error
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
	MarkDone(ctx context.Context, id string) error
}

type Inventory interface {
	Availability(ctx context.Context, eventID string) (int, error)
	SetAvailability(ctx context.Context, eventID string, available int) (int, error)
	Reserve(ctx context.Context, eventID string, tickets int, key string) (int, error)
	Release(ctx context.Context, eventID string, tickets int, key string) (int, error)
}

type Options struct {
	Mode Mode
	// Outbox persists side effects with the booking so the relay can retry
	// the ones that fail inline.
	Outbox bool
}

type Request struct {
	UserID    string `json:"userId"`
	EventID   string `json:"eventId"`
	Tickets   int    `json:"tickets"`
	CardInfo  any    `json:"cardInfo"`
	UserEmail string `json:"userEmail"`
}

type Receipt struct {
	BookingID     string
	EventID       string
	Tickets       int
	Status        string
	PaymentStatus string
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type BookingSvc struct {
	repo Ledger
	inv  Inventory
	disp *outbox.Dispatcher
	clk  clock.Clock
	opts Options
	log  *zap.Logger
}

func NewBookingSvc(r Ledger, inv Inventory, disp *outbox.Dispatcher, clk clock.Clock, opts Options, log *zap.Logger) *BookingSvc {
	if opts.Mode == "" {
		opts.Mode = ModeReserve
	}
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingSvc{repo: r, inv: inv, disp: disp, clk: clk, opts: opts, log: log.Named("booking")}
}

func validate(in Request) error {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.EventID) == "" ||
		in.Tickets == 0 || missing(in.CardInfo) || strings.TrimSpace(in.UserEmail) == "" {
		return apperr.Validation(apperr.CodeMissingField,
			"Missing required fields: userId, eventId, tickets, cardInfo, and userEmail are required")
	}
	if !emailRe.MatchString(in.UserEmail) {
		return apperr.Validation(apperr.CodeBadEmail, "Invalid email format")
	}
	if in.Tickets < 0 {
		return apperr.Validation(apperr.CodeInvalidTicketCount, "Tickets must be a positive integer")
	}
	return nil
}

func missing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// CreateBooking runs the booking saga. Errors before the ledger write abort
// it and are returned; inventory and notification side effects after the
// write are logged and never fail the call.
func (s *BookingSvc) CreateBooking(ctx context.Context, in Request) (*Receipt, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("event_id", in.EventID), zap.String("user_id", in.UserID), zap.Int("tickets", in.Tickets))

	var (
		b       *domain.Booking
		intents []domain.OutboxEntry
		err     error
	)
	switch s.opts.Mode {
	case ModePatch:
		b, intents, err = s.createPatch(ctx, in)
	default:
		b, intents, err = s.createReserved(ctx, in, log)
	}
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("booking_id", b.ID))
	log.Info("booking created")

	s.runIntents(ctx, intents, log)

	return &Receipt{
		BookingID:     b.ID,
		EventID:       b.EventID,
		Tickets:       b.Tickets,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
	}, nil
}

func (s *BookingSvc) createPatch(ctx context.Context, in Request) (*domain.Booking, []domain.OutboxEntry, error) {
	available, err := s.inv.Availability(ctx, in.EventID)
	if err != nil {
		return nil, nil, classifyInventory(err)
	}
	if in.Tickets > available {
		return nil, nil, apperr.Validation(apperr.CodeInsufficientInventory, "Not enough tickets available")
	}

	b := s.newBooking(in)
	setInv, err := outbox.InventorySet(in.EventID, available-in.Tickets)
	if err != nil {
		return nil, nil, apperr.Internal("encode inventory intent", err)
	}
	notify, err := outbox.NotificationPublish(events.NewEmailTask(b.ID, in.UserEmail))
	if err != nil {
		return nil, nil, apperr.Internal("encode notification intent", err)
	}
	// the PATCH carries an absolute count and is only valid right now; it is
	// attempted inline and never stored for the relay
	durable := []domain.OutboxEntry{notify}
	if err := s.write(ctx, b, durable); err != nil {
		return nil, nil, err
	}
	return b, append([]domain.OutboxEntry{setInv}, durable...), nil
}

func (s *BookingSvc) createReserved(ctx context.Context, in Request, log *zap.Logger) (*domain.Booking, []domain.OutboxEntry, error) {
	// the booking id keys the reservation so a release is always safe to send
	b := s.newBooking(in)
	if _, err := s.inv.Reserve(ctx, in.EventID, in.Tickets, b.ID); err != nil {
		if ambiguous(err) {
			// the reserve may have committed before the reply was lost
			s.release(ctx, b, log, err)
		}
		return nil, nil, classifyInventory(err)
	}

	notify, err := outbox.NotificationPublish(events.NewEmailTask(b.ID, in.UserEmail))
	if err == nil {
		intents := []domain.OutboxEntry{notify}
		if err = s.write(ctx, b, intents); err == nil {
			return b, intents, nil
		}
	} else {
		err = apperr.Internal("encode notification intent", err)
	}

	// the reservation must not outlive a failed booking
	s.release(ctx, b, log, err)
	return nil, nil, err
}

func (s *BookingSvc) release(ctx context.Context, b *domain.Booking, log *zap.Logger, cause error) {
	log = log.With(zap.String("reservation_id", b.ID), zap.NamedError("cause", cause))
	if _, err := s.inv.Release(context.WithoutCancel(ctx), b.EventID, b.Tickets, b.ID); err != nil {
		log.Error("release after failed booking", zap.Error(err))
		return
	}
	log.Warn("reservation released after failed booking")
}

// ambiguous reports whether the event service may have applied a request
// whose reply never arrived.
func ambiguous(err error) bool {
	return errors.Is(err, inventory.ErrUnreachable) || errors.Is(err, context.DeadlineExceeded)
}

func (s *BookingSvc) newBooking(in Request) *domain.Booking {
	return &domain.Booking{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		EventID:       in.EventID,
		Tickets:       in.Tickets,
		Status:        events.BookingConfirmed,
		PaymentStatus: events.PaymentPaid,
		CreatedAt:     s.clk.Now(),
	}
}

func (s *BookingSvc) write(ctx context.Context, b *domain.Booking, intents []domain.OutboxEntry) error {
	var err error
	if s.opts.Outbox {
		err = s.repo.CreateWithOutbox(ctx, b, intents)
	} else {
		err = s.repo.Create(ctx, b)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, apperr.CodeLedgerWriteFailed, "Error creating booking: "+err.Error(), err)
	}
	return nil
}

// runIntents tries every side effect once. Stored outbox entries that succeed
// are marked done; the rest stay pending for the relay.
func (s *BookingSvc) runIntents(ctx context.Context, intents []domain.OutboxEntry, log *zap.Logger) {
	for _, e := range intents {
		if err := s.disp.Dispatch(ctx, e); err != nil {
			fields := []zap.Field{zap.String("kind", e.Kind), zap.Bool("outbox", s.opts.Outbox), zap.Error(err)}
			if errors.Is(err, mq.ErrNotReady) {
				log.Warn("notification channel not ready, side effect skipped", fields...)
			} else {
				log.Error("side effect failed", fields...)
			}
			continue
		}
		if s.opts.Outbox && e.ID != "" {
			if err := s.repo.MarkDone(ctx, e.ID); err != nil {
				log.Warn("outbox mark done failed", zap.String("entry_id", e.ID), zap.Error(err))
			}
		}
	}
}

func (s *BookingSvc) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	out, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("Error fetching bookings: "+err.Error(), err)
	}
	if len(out) == 0 {
		return nil, apperr.NotFound(apperr.CodeBookingsMissing, "No bookings found for this user")
	}
	return out, nil
}

func classifyInventory(err error) error {
	var se *inventory.StatusError
	switch {
	case errors.Is(err, inventory.ErrEventNotFound):
		return apperr.Wrap(apperr.KindNotFound, apperr.CodeEventMissing, "Event not found. Please add the event first.", err)
	case errors.Is(err, inventory.ErrInsufficient):
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInsufficientInventory, "Not enough tickets available", err)
	case ambiguous(err):
		return apperr.Unavailable(apperr.CodeInventoryOracleDown, "EventService unavailable. Please try again later.", err)
	case errors.As(err, &se):
		return apperr.Upstream(apperr.CodeAvailabilityCheckFailed, "Error checking event availability: "+se.Message, err)
	default:
		return apperr.Upstream(apperr.CodeAvailabilityCheckFailed, "Error checking event availability: "+err.Error(), err)
	}
}
