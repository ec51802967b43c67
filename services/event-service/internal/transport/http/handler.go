package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/pkg/httpx"
	"github.com/you/event-booking/services/event-service/internal/domain"
)

type Events interface {
	Get(ctx context.Context, id string) (*domain.Event, error)
	SetAvailability(ctx context.Context, id string, n int) (*domain.Event, error)
	Reserve(ctx context.Context, id string, n int, key string) (*domain.Event, error)
	Release(ctx context.Context, id string, n int, key string) (*domain.Event, error)
}

type EventHandler struct {
	svc Events
}

func NewEventHandler(svc Events) *EventHandler {
	return &EventHandler{svc: svc}
}

func (h *EventHandler) Register(r gin.IRouter) {
	g := r.Group("/events/:id")
	g.GET("", h.Get)
	g.GET("/availability", h.Availability)
	g.PATCH("/availability", h.SetAvailability)
	g.POST("/availability/reserve", h.Reserve)
	g.POST("/availability/release", h.Release)
}

func availability(e *domain.Event) gin.H {
	return gin.H{"availableTickets": e.AvailableTickets}
}

// GET /events/:id
func (h *EventHandler) Get(c *gin.Context) {
	e, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GET /events/:id/availability
func (h *EventHandler) Availability(c *gin.Context) {
	e, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, availability(e))
}

// PATCH /events/:id/availability
func (h *EventHandler) SetAvailability(c *gin.Context) {
	var in struct {
		AvailableTickets *int `json:"availableTickets"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.AvailableTickets == nil || *in.AvailableTickets < 0 {
		httpx.Error(c, apperr.Validation(apperr.CodeInvalidAvailability, "Available tickets must be a non-negative number"))
		return
	}
	e, err := h.svc.SetAvailability(c.Request.Context(), c.Param("id"), *in.AvailableTickets)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, availability(e))
}

// POST /events/:id/availability/reserve
func (h *EventHandler) Reserve(c *gin.Context) {
	h.adjust(c, h.svc.Reserve)
}

// POST /events/:id/availability/release
func (h *EventHandler) Release(c *gin.Context) {
	h.adjust(c, h.svc.Release)
}

func (h *EventHandler) adjust(c *gin.Context, op func(context.Context, string, int, string) (*domain.Event, error)) {
	var in struct {
		Tickets       int    `json:"tickets"`
		ReservationID string `json:"reservationId"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Tickets <= 0 {
		httpx.Error(c, apperr.Validation(apperr.CodeInvalidTicketCount, "Tickets must be a positive integer"))
		return
	}
	e, err := op(c.Request.Context(), c.Param("id"), in.Tickets, in.ReservationID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, availability(e))
}
