package commerce

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func NewOrderNotification(o *Order, now time.Time) *NotificationLog {
	return &NotificationLog{
		ID:           uuid.NewString(),
		UserID:       o.UserID,
		OrderID:      o.ID,
		Type:         NotifOrder,
		CustomerName: o.CustomerName,
		Message:      fmt.Sprintf("%s placed a new order", o.CustomerName),
		Status:       string(o.Status),
		CreatedAt:    now,
	}
}

func NewPaymentNotification(o *Order, status PaymentStatus, now time.Time) *NotificationLog {
	var msg string
	switch status {
	case PaymentSucceeded:
		msg = fmt.Sprintf("Payment received for order of %s", o.CustomerName)
	case PaymentExpired:
		msg = fmt.Sprintf("Payment expired for order of %s", o.CustomerName)
	default:
		msg = fmt.Sprintf("Payment failed for order of %s", o.CustomerName)
	}
	return &NotificationLog{
		ID:           uuid.NewString(),
		UserID:       o.UserID,
		OrderID:      o.ID,
		Type:         NotifOrder,
		CustomerName: o.CustomerName,
		Message:      msg,
		Status:       string(o.Status),
		CreatedAt:    now,
	}
}

func NewAppointmentPaymentNotification(a *Appointment, status PaymentStatus, now time.Time) *NotificationLog {
	msg := fmt.Sprintf("Payment %s for appointment of %s", status, a.CustomerName)
	return &NotificationLog{
		ID:            uuid.NewString(),
		UserID:        a.UserID,
		AppointmentID: a.ID,
		Type:          NotifAppointment,
		CustomerName:  a.CustomerName,
		Message:       msg,
		Status:        a.Status,
		CreatedAt:     now,
	}
}

func NewCancellationNotification(o *Order, t NotificationType, reason string, now time.Time) *NotificationLog {
	var msg string
	switch t {
	case NotifCancellationRequested:
		msg = fmt.Sprintf("%s requested to cancel their order", o.CustomerName)
	case NotifCancellationAccepted:
		msg = fmt.Sprintf("Cancellation accepted for order of %s", o.CustomerName)
	default:
		msg = fmt.Sprintf("Cancellation rejected for order of %s", o.CustomerName)
	}
	return &NotificationLog{
		ID:           uuid.NewString(),
		UserID:       o.UserID,
		OrderID:      o.ID,
		Type:         t,
		CustomerName: o.CustomerName,
		Message:      msg,
		Reason:       reason,
		Status:       string(o.Status),
		CreatedAt:    now,
	}
}
