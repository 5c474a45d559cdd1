package commerce

import "time"

type User struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) FullName() string { return u.FirstName + " " + u.LastName }

type Product struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	PriceCents    int64     `json:"price_cents"`
	Stock         int       `json:"stock"`
	Category      string    `json:"category"`
	Specification string    `json:"specification"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type OrderItem struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	ProductID   string     `json:"product_id"`
	ProductName string     `json:"product_name"`
	Qty         int        `json:"quantity"`
	PriceCents  int64      `json:"price_cents"`
	Status      ItemStatus `json:"status"`
}

// Payment is the charge sub-record embedded in orders and appointments.
// ReferenceID correlates exactly one provider charge with this record;
// it is empty for methods that never touch the provider (e.g. cash on delivery).
type Payment struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	ChargeID    string        `json:"charge_id,omitempty"`
	AmountCents int64         `json:"amount_cents"`
	Status      PaymentStatus `json:"status"`
	PaidAt      *time.Time    `json:"paid_at"`
	Method      string        `json:"method"`
}

type Cancellation struct {
	Status      CancelStatus `json:"status,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
}

type Order struct {
	ID              string       `json:"id"`
	ExternalID      string       `json:"external_id,omitempty"` // client idempotency key
	UserID          string       `json:"user_id"`
	CustomerName    string       `json:"customer_name"`
	CustomerEmail   string       `json:"customer_email"`
	CustomerPhone   string       `json:"customer_phone"`
	Items           []OrderItem  `json:"items"`
	TotalCents      int64        `json:"total_cents"`
	PaymentMethod   string       `json:"payment_method"`
	DeliveryAddress string       `json:"delivery_address"`
	Notes           string       `json:"notes,omitempty"`
	Status          OrderStatus  `json:"status"`
	Cancellation    Cancellation `json:"cancellation"`
	Payment         Payment      `json:"payment"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Appointment is the single-service analogue of an Order: one charge, same
// payment sub-record and reconciliation path, no inventory involvement.
type Appointment struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CustomerName string    `json:"customer_name"`
	ServiceType  string    `json:"service_type"`
	Mechanic     string    `json:"mechanic"`
	Date         time.Time `json:"date"`
	TimeSlot     string    `json:"time"`
	Status       string    `json:"status"`
	PriceCents   int64     `json:"price_cents"`
	Payment      Payment   `json:"payment"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SourceType string

const (
	SourceOrder       SourceType = "Order"
	SourceAppointment SourceType = "Appointment"
)

type InvoiceItem struct {
	Description    string `json:"description"`
	Qty            int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type Invoice struct {
	ID              string        `json:"id"`
	InvoiceNumber   string        `json:"invoice_number"`
	SourceType      SourceType    `json:"source_type"`
	SourceID        string        `json:"source_id"`
	CustomerName    string        `json:"customer_name"`
	CustomerAddress string        `json:"customer_address,omitempty"`
	CustomerEmail   string        `json:"customer_email,omitempty"`
	CustomerPhone   string        `json:"customer_phone,omitempty"`
	PaymentMethod   string        `json:"payment_method"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	ReferenceID     string        `json:"reference_id,omitempty"`
	PaidAt          *time.Time    `json:"paid_at"`
	Items           []InvoiceItem `json:"items"`
	SubtotalCents   int64         `json:"subtotal_cents"`
	TotalCents      int64         `json:"total_cents"`
	Status          InvoiceStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// StockLog rows are append-only. Current availability lives on products.stock;
// the log is the audit trail, never replayed.
type StockLog struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Change    int       `json:"change"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	StockReasonOrder          = "Order"
	StockReasonPaymentFailed  = "Payment Failed"
	StockReasonPaymentExpired = "Payment Expired"
	StockReasonCancelled      = "Cancelled"
)

type NotificationType string

const (
	NotifOrder                 NotificationType = "order"
	NotifAppointment           NotificationType = "appointment"
	NotifCancellationRequested NotificationType = "CancellationRequest"
	NotifCancellationAccepted  NotificationType = "CancellationAccepted"
	NotifCancellationRejected  NotificationType = "CancellationRejected"
)

type NotificationLog struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id,omitempty"`
	OrderID       string           `json:"order_id,omitempty"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	Type          NotificationType `json:"type"`
	CustomerName  string           `json:"customer_name,omitempty"`
	Message       string           `json:"message"`
	Reason        string           `json:"reason,omitempty"`
	Status        string           `json:"status,omitempty"`
	ReadAt        *time.Time       `json:"read_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

type CartItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	PriceCents  int64  `json:"price_cents"`
	Qty         int    `json:"quantity"`
	Selected    bool   `json:"selected"`
}
