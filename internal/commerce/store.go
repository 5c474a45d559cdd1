package commerce

import (
	"context"
	"time"
)

type CheckoutLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

// PaymentIntent carries the charge created by a prior payment-initiation
// call. Absent for methods that settle outside the provider.
type PaymentIntent struct {
	ReferenceID string `json:"reference_id"`
	ChargeID    string `json:"charge_id"`
	AmountCents int64  `json:"amount_cents"`
}

type CheckoutInput struct {
	UserID          string
	ExternalID      string // optional client idempotency key
	Lines           []CheckoutLine
	PaymentMethod   string
	DeliveryAddress string
	Notes           string
	Intent          *PaymentIntent
}

type CheckoutResult struct {
	Order        *Order
	Invoice      *Invoice
	Notification *NotificationLog
	Existed      bool
}

type WebhookEvent struct {
	ReferenceID string
	Status      string
	AmountCents int64
}

type ReconcileResult struct {
	Applied      bool // false = idempotent no-op
	SourceType   SourceType
	Order        *Order
	Appointment  *Appointment
	Invoice      *Invoice
	Notification *NotificationLog
}

type CancellationResult struct {
	Order        *Order
	Invoice      *Invoice
	Deleted      *NotificationLog // the replaced request notification, if any
	Notification *NotificationLog
}

type AppointmentInput struct {
	UserID      string
	ServiceType string
	Mechanic    string
	Date        time.Time
	TimeSlot    string
	PriceCents  int64
	Intent      *PaymentIntent
	Method      string
}

type AppointmentResult struct {
	Appointment  *Appointment
	Invoice      *Invoice
	Notification *NotificationLog
}

type ItemStatusChange struct {
	ProductID string     `json:"product_id"`
	Status    ItemStatus `json:"status"`
}

// Store is the persistence boundary of the engine. Each method that mutates
// more than one record does so in a single transaction; the service layer
// never sees partial state.
type Store interface {
	OrderByExternalID(ctx context.Context, externalID string) (*Order, error)
	CreateCheckout(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error)
	CreateAppointment(ctx context.Context, in AppointmentInput, now time.Time) (*AppointmentResult, error)
	ApplyPayment(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error)
	RequestCancellation(ctx context.Context, orderID, reason string, now time.Time) (*CancellationResult, error)
	ResolveCancellation(ctx context.Context, orderID string, accept bool, now time.Time) (*CancellationResult, error)
	UpdateItemStatuses(ctx context.Context, orderID string, changes []ItemStatusChange, now time.Time) (*Order, error)
	Order(ctx context.Context, id string) (*Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]Order, error)
	CartItems(ctx context.Context, userID string) ([]CartItem, error)
	Invoice(ctx context.Context, id string) (*Invoice, error)
	Invoices(ctx context.Context) ([]Invoice, error)
	MarkNotificationRead(ctx context.Context, id string, now time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID string, now time.Time) (int64, error)
}
