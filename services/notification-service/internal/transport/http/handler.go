package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/pkg/httpx"
	"github.com/you/event-booking/services/notification-service/internal/domain"
)

type Lister interface {
	ListByBooking(ctx context.Context, bookingID string) ([]domain.NotificationRecord, error)
}

type NotificationHandler struct {
	repo Lister
}

func NewNotificationHandler(repo Lister) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

func (h *NotificationHandler) Register(r gin.IRouter) {
	r.GET("/notifications/booking/:bookingId", h.ListByBooking)
}

// GET /notifications/booking/:bookingId
func (h *NotificationHandler) ListByBooking(c *gin.Context) {
	out, err := h.repo.ListByBooking(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		httpx.Error(c, apperr.Internal("Error fetching notifications", err))
		return
	}
	if len(out) == 0 {
		httpx.Error(c, apperr.NotFound(apperr.CodeNotificationsMissing, "No notifications found for this booking"))
		return
	}
	c.JSON(http.StatusOK, out)
}
