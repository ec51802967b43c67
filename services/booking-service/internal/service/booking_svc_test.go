package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/pkg/clock"
	"github.com/you/event-booking/pkg/events"
	"github.com/you/event-booking/pkg/mq"
	"github.com/you/event-booking/services/booking-service/internal/domain"
	"github.com/you/event-booking/services/booking-service/internal/inventory"
	"github.com/you/event-booking/services/booking-service/internal/outbox"
)

type fakeLedger struct {
	mu        sync.Mutex
	createErr error
	bookings  []domain.Booking
	entries   map[string]*domain.OutboxEntry
}

func (f *fakeLedger) Create(_ context.Context, b *domain.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.bookings = append(f.bookings, *b)
	return nil
}

func (f *fakeLedger) CreateWithOutbox(_ context.Context, b *domain.Booking, entries []domain.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.bookings = append(f.bookings, *b)
	if f.entries == nil {
		f.entries = map[string]*domain.OutboxEntry{}
	}
	for i := range entries {
		entries[i].ID = fmt.Sprintf("ob-%d", len(f.entries)+1)
		entries[i].BookingID = b.ID
		e := entries[i]
		f.entries[e.ID] = &e
	}
	return nil
}

func (f *fakeLedger) ListByUser(_ context.Context, userID string) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkDone(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return errors.New("no such entry")
	}
	e.Status = domain.OutboxDone
	return nil
}

func (f *fakeLedger) Pending(_ context.Context, olderThan time.Time, limit int) ([]domain.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutboxEntry
	for _, e := range f.entries {
		if e.Status == domain.OutboxPending && e.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkAttempt(_ context.Context, id, lastErr string, failed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return errors.New("no such entry")
	}
	e.Attempts++
	e.LastError = lastErr
	if failed {
		e.Status = domain.OutboxFailed
	}
	return nil
}

func (f *fakeLedger) statuses() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, e := range f.entries {
		out[e.Kind] = e.Status
	}
	return out
}

type fakeInventory struct {
	mu        sync.Mutex
	available map[string]int
	readErr   error
	setErr    error
	sets      []int
	released  int
	reserved  map[string]int
	// lostReply makes Reserve commit and then fail, like a timed out call.
	lostReply error
	// barrier makes every Availability call wait until n readers arrived.
	barrier *sync.WaitGroup
}

func (f *fakeInventory) Availability(_ context.Context, eventID string) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	f.mu.Lock()
	n, ok := f.available[eventID]
	f.mu.Unlock()
	if !ok {
		return 0, &inventory.StatusError{Code: 404, Message: "Event not found"}
	}
	if f.barrier != nil {
		f.barrier.Done()
		f.barrier.Wait()
	}
	return n, nil
}

func (f *fakeInventory) SetAvailability(_ context.Context, eventID string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, n)
	if f.setErr != nil {
		return 0, f.setErr
	}
	f.available[eventID] = n
	return n, nil
}

func (f *fakeInventory) Reserve(_ context.Context, eventID string, tickets int, key string) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.available[eventID]
	if !ok {
		return 0, &inventory.StatusError{Code: 404, Message: "Event not found"}
	}
	if _, dup := f.reserved[key]; dup {
		return n, nil
	}
	if n < tickets {
		return 0, &inventory.StatusError{Code: 409, Message: "Not enough tickets available"}
	}
	f.available[eventID] = n - tickets
	if f.reserved == nil {
		f.reserved = map[string]int{}
	}
	f.reserved[key] = tickets
	if f.lostReply != nil {
		return 0, f.lostReply
	}
	return n - tickets, nil
}

// Release honours the key like the event service: unknown keys are a no-op.
func (f *fakeInventory) Release(_ context.Context, eventID string, _ int, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.reserved[key]
	if !ok {
		return f.available[eventID], nil
	}
	delete(f.reserved, key)
	f.available[eventID] += n
	f.released += n
	return f.available[eventID], nil
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []events.NotificationTask
}

func (f *fakePublisher) PublishJSON(_ context.Context, _ string, v any) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	task, err := events.Decode(b)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, task)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	ledger *fakeLedger
	inv    *fakeInventory
	pub    *fakePublisher
	svc    *BookingSvc
}

func newFixture(opts Options, available map[string]int) *fixture {
	f := &fixture{
		ledger: &fakeLedger{},
		inv:    &fakeInventory{available: available},
		pub:    &fakePublisher{},
	}
	disp := outbox.NewDispatcher(f.inv, f.pub, "")
	now := clock.Fixed(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	f.svc = NewBookingSvc(f.ledger, f.inv, disp, now, opts, nil)
	return f
}

func validRequest() Request {
	return Request{
		UserID:    "u1",
		EventID:   "e1",
		Tickets:   3,
		CardInfo:  map[string]any{"number": "4242"},
		UserEmail: "jane@example.com",
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Request)
		code   string
	}{
		"missing user":    {func(r *Request) { r.UserID = "" }, apperr.CodeMissingField},
		"missing event":   {func(r *Request) { r.EventID = "" }, apperr.CodeMissingField},
		"zero tickets":    {func(r *Request) { r.Tickets = 0 }, apperr.CodeMissingField},
		"missing card":    {func(r *Request) { r.CardInfo = nil }, apperr.CodeMissingField},
		"blank card":      {func(r *Request) { r.CardInfo = "" }, apperr.CodeMissingField},
		"missing email":   {func(r *Request) { r.UserEmail = "" }, apperr.CodeMissingField},
		"bad email":       {func(r *Request) { r.UserEmail = "jane@example" }, apperr.CodeBadEmail},
		"spaced email":    {func(r *Request) { r.UserEmail = "ja ne@example.com" }, apperr.CodeBadEmail},
		"negative ticket": {func(r *Request) { r.Tickets = -2 }, apperr.CodeInvalidTicketCount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 5})
			req := validRequest()
			tc.mutate(&req)

			_, err := f.svc.CreateBooking(context.Background(), req)

			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tc.code, apperr.As(err).Code)
			assert.Empty(t, f.ledger.bookings)
		})
	}
}

func TestCreateBooking_PatchHappyPath(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 5})

	r, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotEmpty(t, r.BookingID)
	assert.Equal(t, "e1", r.EventID)
	assert.Equal(t, 3, r.Tickets)
	assert.Equal(t, "CONFIRMED", r.Status)
	assert.Equal(t, "PAID", r.PaymentStatus)

	require.Len(t, f.ledger.bookings, 1)
	assert.Equal(t, r.BookingID, f.ledger.bookings[0].ID)
	assert.Equal(t, "CONFIRMED", f.ledger.bookings[0].Status)
	assert.Equal(t, []int{2}, f.inv.sets)

	require.Len(t, f.pub.msgs, 1)
	assert.Equal(t, events.NotificationTask{
		BookingID:        r.BookingID,
		UserEmail:        "jane@example.com",
		Status:           "CONFIRMED",
		NotificationType: "EMAIL",
	}, f.pub.msgs[0])
}

func TestCreateBooking_PatchInsufficient(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 2})

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	assert.ErrorIs(t, err, apperr.Validation(apperr.CodeInsufficientInventory, ""))
	assert.Equal(t, "Not enough tickets available", apperr.As(err).Message)
	assert.Empty(t, f.ledger.bookings)
	assert.Empty(t, f.inv.sets)
	assert.Empty(t, f.pub.msgs)
}

func TestCreateBooking_InventoryFailures(t *testing.T) {
	cases := []struct {
		name    string
		readErr error
		kind    apperr.Kind
		code    string
		message string
	}{
		{"unknown event", nil, apperr.KindNotFound, apperr.CodeEventMissing, "Event not found. Please add the event first."},
		{"remote error", &inventory.StatusError{Code: 500, Message: "db down"}, apperr.KindUpstream,
			apperr.CodeAvailabilityCheckFailed, "Error checking event availability: db down"},
		{"unreachable", fmt.Errorf("%w: dial tcp", inventory.ErrUnreachable), apperr.KindUnavailable,
			apperr.CodeInventoryOracleDown, "EventService unavailable. Please try again later."},
	}
	for _, mode := range []Mode{ModePatch, ModeReserve} {
		for _, tc := range cases {
			t.Run(string(mode)+"/"+tc.name, func(t *testing.T) {
				f := newFixture(Options{Mode: mode}, map[string]int{})
				f.inv.readErr = tc.readErr

				_, err := f.svc.CreateBooking(context.Background(), validRequest())

				ae := apperr.As(err)
				assert.Equal(t, tc.kind, ae.Kind)
				assert.Equal(t, tc.code, ae.Code)
				assert.Equal(t, tc.message, ae.Message)
				assert.Empty(t, f.ledger.bookings)
				assert.Empty(t, f.pub.msgs)
			})
		}
	}
}

func TestCreateBooking_PatchFailureIsSwallowed(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 5})
	f.inv.setErr = errors.New("event service 500")

	r, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotEmpty(t, r.BookingID)
	assert.Len(t, f.ledger.bookings, 1)
	assert.Equal(t, []int{2}, f.inv.sets)
	assert.Len(t, f.pub.msgs, 1)
}

func TestCreateBooking_PublishNotReadyIsSwallowed(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 5})
	f.pub.err = fmt.Errorf("%w (state=disconnected)", mq.ErrNotReady)

	r, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotEmpty(t, r.BookingID)
	assert.Len(t, f.ledger.bookings, 1)
	assert.Empty(t, f.pub.msgs)
}

func TestCreateBooking_LedgerFailure(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 5})
	f.ledger.createErr = errors.New("connection reset")

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	ae := apperr.As(err)
	assert.Equal(t, apperr.CodeLedgerWriteFailed, ae.Code)
	assert.Equal(t, "Error creating booking: connection reset", ae.Message)
	assert.Empty(t, f.inv.sets)
	assert.Empty(t, f.pub.msgs)
}

// Both requests read availability=1 before either writes, so both pass the
// capacity check and the event is oversold.
func TestCreateBooking_PatchModeConcurrentOversell(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 1})
	f.inv.barrier = &sync.WaitGroup{}
	f.inv.barrier.Add(2)

	req := validRequest()
	req.Tickets = 1
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(context.Background(), req)
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Len(t, f.ledger.bookings, 2)
	assert.Equal(t, []int{0, 0}, f.inv.sets)
}

func TestCreateBooking_ReserveModeNoOversell(t *testing.T) {
	f := newFixture(Options{Mode: ModeReserve}, map[string]int{"e1": 1})

	req := validRequest()
	req.Tickets = 1
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(context.Background(), req)
		}(i)
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.Validation(apperr.CodeInsufficientInventory, "")):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, insufficient)
	assert.Len(t, f.ledger.bookings, 1)
	assert.Equal(t, 0, f.inv.available["e1"])
	assert.Empty(t, f.inv.sets, "reserve mode never patches")
}

func TestCreateBooking_ReserveReleasedWhenLedgerFails(t *testing.T) {
	f := newFixture(Options{Mode: ModeReserve}, map[string]int{"e1": 5})
	f.ledger.createErr = errors.New("disk full")

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.Error(t, err)
	assert.Equal(t, 3, f.inv.released)
	assert.Equal(t, 5, f.inv.available["e1"])
	assert.Empty(t, f.pub.msgs)
}

func TestCreateBooking_OutboxMarksDelivered(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch, Outbox: true}, map[string]int{"e1": 5})

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		domain.OutboxNotificationPublish: domain.OutboxDone,
	}, f.ledger.statuses())
	assert.Equal(t, []int{2}, f.inv.sets)
}

func TestCreateBooking_OutboxLeavesFailuresPending(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch, Outbox: true}, map[string]int{"e1": 5})
	f.inv.setErr = errors.New("timeout")
	f.pub.err = mq.ErrNotReady

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		domain.OutboxNotificationPublish: domain.OutboxPending,
	}, f.ledger.statuses())
}

// A failed PATCH must not come back later and overwrite the count written by
// a newer booking.
func TestCreateBooking_PatchModeRelayKeepsNewerCount(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch, Outbox: true}, map[string]int{"e1": 10})
	ctx := context.Background()

	f.inv.setErr = errors.New("event service 503")
	f.pub.err = mq.ErrNotReady
	_, err := f.svc.CreateBooking(ctx, validRequest())
	require.NoError(t, err)

	f.inv.setErr = nil
	f.pub.err = nil
	req := validRequest()
	req.Tickets = 5
	_, err = f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 5, f.inv.available["e1"])

	relay := outbox.NewRelay(f.ledger, outbox.NewDispatcher(f.inv, f.pub, ""),
		clock.Fixed(time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)), outbox.RelayConfig{}, nil)
	n, err := relay.Tick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the pending notification is relayed")
	assert.Equal(t, 5, f.inv.available["e1"])
	assert.Equal(t, []int{7, 5}, f.inv.sets)
	assert.Len(t, f.pub.msgs, 2)
}

func TestCreateBooking_ReserveOutboxHasOnlyNotification(t *testing.T) {
	f := newFixture(Options{Mode: ModeReserve, Outbox: true}, map[string]int{"e1": 5})

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		domain.OutboxNotificationPublish: domain.OutboxDone,
	}, f.ledger.statuses())
	assert.Equal(t, 2, f.inv.available["e1"])
}

func TestListByUser(t *testing.T) {
	f := newFixture(Options{Mode: ModePatch}, map[string]int{"e1": 10})

	_, err := f.svc.ListByUser(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.NotFound(apperr.CodeBookingsMissing, ""))

	_, err = f.svc.CreateBooking(context.Background(), validRequest())
	require.NoError(t, err)

	out, err := f.svc.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("PATCH")
	require.NoError(t, err)
	assert.Equal(t, ModePatch, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeReserve, m)

	_, err = ParseMode("optimistic")
	assert.Error(t, err)
}

func TestCreateBooking_ReserveLostReplyIsReleased(t *testing.T) {
	f := newFixture(Options{Mode: ModeReserve}, map[string]int{"e1": 5})
	f.inv.lostReply = fmt.Errorf("%w: %v", inventory.ErrUnreachable, context.DeadlineExceeded)

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	assert.Equal(t, apperr.CodeInventoryOracleDown, apperr.As(err).Code)
	assert.Equal(t, 3, f.inv.released)
	assert.Equal(t, 5, f.inv.available["e1"])
	assert.Empty(t, f.inv.reserved)
	assert.Empty(t, f.ledger.bookings)
}

func TestCreateBooking_ReserveUnreachableReleaseIsNoop(t *testing.T) {
	f := newFixture(Options{Mode: ModeReserve}, map[string]int{"e1": 5})
	f.inv.readErr = fmt.Errorf("%w: dial tcp", inventory.ErrUnreachable)

	_, err := f.svc.CreateBooking(context.Background(), validRequest())

	assert.Equal(t, apperr.CodeInventoryOracleDown, apperr.As(err).Code)
	assert.Zero(t, f.inv.released)
	assert.Equal(t, 5, f.inv.available["e1"])
}
