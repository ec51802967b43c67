package notifier

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/apperr"
	"github.com/you/event-booking/pkg/events"
)

// Notifier delivers one rendered message. Swap it for a real email or SMS
// gateway; the console one only logs.
type Notifier interface {
	Notify(m Message) error
}

type Message struct {
	Channel string // EMAIL|SMS
	To      string
	Subject string
	Body    string
	// Summary is the audit text stored once the send succeeded.
	Summary string
}

// Compose renders the confirmation for task. Unknown channels return an
// UnsupportedNotificationType error.
func Compose(task events.NotificationTask) (Message, error) {
	switch task.NotificationType {
	case events.TypeEmail:
		return Message{
			Channel: events.TypeEmail,
			To:      task.UserEmail,
			Subject: fmt.Sprintf("Booking Confirmation for Booking ID %s", task.BookingID),
			Body: fmt.Sprintf(`Dear Customer,

We are pleased to confirm your booking!

Booking Details:
- Booking ID: %s
- Status: %s
- Email: %s

Thank you for choosing our service!

Best regards,
Event Booking Team
`, task.BookingID, task.Status, task.UserEmail),
			Summary: fmt.Sprintf("Booking %s confirmation email sent to %s for booking %s", task.Status, task.UserEmail, task.BookingID),
		}, nil
	case events.TypeSMS:
		return Message{
			Channel: events.TypeSMS,
			To:      task.UserEmail,
			Body: fmt.Sprintf("Booking %s! Booking ID: %s. Check your email (%s) for details.",
				task.Status, task.BookingID, task.UserEmail),
			Summary: fmt.Sprintf("Booking %s confirmation SMS sent to %s for booking %s", task.Status, task.UserEmail, task.BookingID),
		}, nil
	default:
		return Message{}, apperr.Validation(apperr.CodeUnsupportedNotificationType,
			"Unsupported notification type: "+task.NotificationType)
	}
}

// FailureText is the audit message for a delivery that did not go out.
func FailureText(task events.NotificationTask, err error) string {
	reason := err.Error()
	if ae := apperr.As(err); ae.Message != "" && ae.Code != apperr.CodeInternal {
		reason = ae.Message
	}
	return fmt.Sprintf("Failed to send %s for booking %s: %s", task.NotificationType, task.BookingID, reason)
}

// ConsoleNotifier (MVP) logs instead of sending.
type ConsoleNotifier struct {
	log *zap.Logger
}

func NewConsole(log *zap.Logger) *ConsoleNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleNotifier{log: log.Named("notify")}
}

func (c *ConsoleNotifier) Notify(m Message) error {
	c.log.Info("dummy "+m.Channel+" sent",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}
