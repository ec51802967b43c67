package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/pkg/httpx"
	"github.com/you/event-booking/services/booking-service/internal/domain"
	"github.com/you/event-booking/services/booking-service/internal/service"
)

type Bookings interface {
	CreateBooking(ctx context.Context, in service.Request) (*service.Receipt, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
}

type BookingHandler struct {
	svc Bookings
}

func NewBookingHandler(svc Bookings) *BookingHandler {
	return &BookingHandler{svc: svc}
}

func (h *BookingHandler) Register(r gin.IRouter) {
	r.POST("/bookings", h.Create)
	r.GET("/bookings/user/:userId", h.ListByUser)
}

// POST /bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var in service.Request
	if err := c.ShouldBindJSON(&in); err != nil {
		httpx.Error(c, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidBody, "Invalid request body", err))
		return
	}
	res, err := h.svc.CreateBooking(c.Request.Context(), in)
	if err != nil {
		status := apperr.HTTPStatus(err)
		// an unknown event is the client's mistake at this call site
		if apperr.As(err).Code == apperr.CodeEventMissing {
			status = http.StatusBadRequest
		}
		httpx.ErrorStatus(c, status, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":   "Booking created successfully",
		"bookingId": res.BookingID,
		"details": gin.H{
			"eventId":       res.EventID,
			"tickets":       res.Tickets,
			"status":        res.Status,
			"paymentStatus": res.PaymentStatus,
		},
	})
}

// GET /bookings/user/:userId
func (h *BookingHandler) ListByUser(c *gin.Context) {
	out, err := h.svc.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
