package service

import (
	"context"
	"errors"
	"strings"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/services/event-service/internal/domain"
	"github.com/you/event-booking/services/event-service/internal/repository"
)

type Store interface {
	Create(ctx context.Context, e *domain.Event) error
	Upsert(ctx context.Context, e *domain.Event) error
	ByID(ctx context.Context, id string) (*domain.Event, error)
	SetAvailability(ctx context.Context, id string, n int) (*domain.Event, error)
	Reserve(ctx context.Context, id string, n int, key string) (*domain.Event, error)
	Release(ctx context.Context, id string, n int, key string) (*domain.Event, error)
}

type EventSvc struct {
	repo Store
}

func NewEventSvc(r Store) *EventSvc {
	return &EventSvc{repo: r}
}

func (s *EventSvc) Seed(ctx context.Context, in domain.Event) (*domain.Event, error) {
	if in.AvailableTickets < 0 {
		return nil, errInvalidAvailability
	}
	if err := s.repo.Upsert(ctx, &in); err != nil {
		return nil, apperr.Internal("Error saving event", err)
	}
	return &in, nil
}

func (s *EventSvc) Create(ctx context.Context, in domain.Event) (*domain.Event, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation(apperr.CodeMissingField, "Title is required")
	}
	if in.AvailableTickets < 0 {
		return nil, errInvalidAvailability
	}
	if err := s.repo.Create(ctx, &in); err != nil {
		if errors.Is(err, repository.ErrExists) {
			return nil, apperr.Conflict(apperr.CodeEventExists, "Event already exists")
		}
		return nil, apperr.Internal("Error saving event", err)
	}
	return &in, nil
}

func (s *EventSvc) Get(ctx context.Context, id string) (*domain.Event, error) {
	e, err := s.repo.ByID(ctx, id)
	return e, mapErr(err)
}

func (s *EventSvc) SetAvailability(ctx context.Context, id string, n int) (*domain.Event, error) {
	if n < 0 {
		return nil, errInvalidAvailability
	}
	e, err := s.repo.SetAvailability(ctx, id, n)
	return e, mapErr(err)
}

// Reserve takes n tickets. A non-empty key makes the call idempotent and lets
// Release undo exactly this reservation.
func (s *EventSvc) Reserve(ctx context.Context, id string, n int, key string) (*domain.Event, error) {
	if n <= 0 {
		return nil, errInvalidTickets
	}
	e, err := s.repo.Reserve(ctx, id, n, key)
	return e, mapErr(err)
}

func (s *EventSvc) Release(ctx context.Context, id string, n int, key string) (*domain.Event, error) {
	if n <= 0 {
		return nil, errInvalidTickets
	}
	e, err := s.repo.Release(ctx, id, n, key)
	return e, mapErr(err)
}

var (
	errInvalidAvailability = apperr.Validation(apperr.CodeInvalidAvailability, "Available tickets must be a non-negative number")
	errInvalidTickets      = apperr.Validation(apperr.CodeInvalidTicketCount, "Tickets must be a positive integer")
)

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(apperr.CodeEventMissing, "Event not found")
	case errors.Is(err, repository.ErrInsufficient):
		return apperr.Conflict(apperr.CodeInsufficientInventory, "Not enough tickets available")
	default:
		return apperr.Internal("Error updating event", err)
	}
}
