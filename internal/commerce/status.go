package commerce

import "strings"

type ItemStatus string

const (
	ItemForApproval ItemStatus = "For Approval"
	ItemToShip      ItemStatus = "To ship"
	ItemShip        ItemStatus = "Ship"
	ItemDelivered   ItemStatus = "Delivered"
	ItemCompleted   ItemStatus = "Completed"
	ItemCancelled   ItemStatus = "Cancelled"
)

type OrderStatus string

const (
	OrderForApproval    OrderStatus = "For Approval"
	OrderToShip         OrderStatus = "To ship"
	OrderShip           OrderStatus = "Ship"
	OrderDelivered      OrderStatus = "Delivered"
	OrderCompleted      OrderStatus = "Completed"
	OrderCancelled      OrderStatus = "Cancelled"
	OrderPaymentFailed  OrderStatus = "Payment Failed"
	OrderPaymentExpired OrderStatus = "Payment Expired"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentSucceeded PaymentStatus = "Succeeded"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentExpired   PaymentStatus = "Expired"
)

type CancelStatus string

const (
	CancelNone      CancelStatus = ""
	CancelRequested CancelStatus = "Requested"
	CancelAccepted  CancelStatus = "Accepted"
	CancelRejected  CancelStatus = "Rejected"
)

type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "Unpaid"
	InvoicePaid      InvoiceStatus = "Paid"
	InvoiceCancelled InvoiceStatus = "Cancelled"
	InvoiceRefunded  InvoiceStatus = "Refunded"
)

var validNextItem = map[ItemStatus]map[ItemStatus]bool{
	ItemForApproval: {ItemToShip: true, ItemCancelled: true},
	ItemToShip:      {ItemShip: true, ItemCancelled: true},
	ItemShip:        {ItemDelivered: true, ItemCancelled: true},
	ItemDelivered:   {ItemCompleted: true, ItemCancelled: true},
	ItemCompleted:   {},
	ItemCancelled:   {},
}

func CanTransitionItem(from, to ItemStatus) bool {
	return validNextItem[from][to]
}

var validNextPayment = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentSucceeded: true, PaymentFailed: true, PaymentExpired: true},
	PaymentSucceeded: {},
	PaymentFailed:    {},
	PaymentExpired:   {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validNextPayment[from][to]
}

var validNextCancel = map[CancelStatus]map[CancelStatus]bool{
	CancelNone:      {CancelRequested: true},
	CancelRequested: {CancelAccepted: true, CancelRejected: true},
	CancelAccepted:  {},
	CancelRejected:  {},
}

func CanTransitionCancellation(from, to CancelStatus) bool {
	return validNextCancel[from][to]
}

// DeriveOrderStatus computes the top-level order status from its item
// statuses. An accepted cancellation or a terminal failed payment overrides
// the derivation. Must be recomputed on every item-status write; the stored
// top-level status is never authoritative on its own.
func DeriveOrderStatus(items []ItemStatus, cancel CancelStatus, pay PaymentStatus) OrderStatus {
	if cancel == CancelAccepted {
		return OrderCancelled
	}
	switch pay {
	case PaymentFailed:
		return OrderPaymentFailed
	case PaymentExpired:
		return OrderPaymentExpired
	}

	var anyCancelled, anyShip, anyToShip bool
	allCompleted := len(items) > 0
	allDelivered := len(items) > 0
	for _, s := range items {
		switch s {
		case ItemCancelled:
			anyCancelled = true
		case ItemShip:
			anyShip = true
		case ItemToShip:
			anyToShip = true
		}
		if s != ItemCompleted {
			allCompleted = false
		}
		if s != ItemDelivered && s != ItemCompleted {
			allDelivered = false
		}
	}

	switch {
	case anyCancelled:
		return OrderCancelled
	case allCompleted:
		return OrderCompleted
	case allDelivered:
		return OrderDelivered
	case anyShip:
		return OrderShip
	case anyToShip:
		return OrderToShip
	default:
		return OrderForApproval
	}
}

// NormalizeProviderStatus maps a raw provider status string ("SUCCEEDED",
// "failed", ...) onto the payment state machine. Unknown values are a
// validation error: the webhook must be rejected, not guessed at.
func NormalizeProviderStatus(raw string) (PaymentStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCEEDED", "SUCCESS":
		return PaymentSucceeded, nil
	case "FAILED":
		return PaymentFailed, nil
	case "PENDING":
		return PaymentPending, nil
	case "EXPIRED", "VOIDED":
		return PaymentExpired, nil
	default:
		return "", ErrValidation
	}
}

// ShouldReleaseStock decides whether an item's reservation is still held and
// may be returned to the product. Called with the state as it was before the
// releasing event (payment failure or cancellation acceptance) is applied.
// False when the item was already cancelled, when an accepted cancellation
// already released the whole order, or when a terminal failed/expired payment
// already did. At most one release per item ever happens.
func ShouldReleaseStock(item ItemStatus, cancel CancelStatus, pay PaymentStatus) bool {
	if item == ItemCancelled {
		return false
	}
	if cancel == CancelAccepted {
		return false
	}
	if pay == PaymentFailed || pay == PaymentExpired {
		return false
	}
	return true
}

// PaymentTransitionApplies reports whether an incoming provider status should
// be written over the stored one. Equal statuses and anything arriving after
// a terminal state are no-ops, which makes duplicated and out-of-order
// webhook delivery safe.
func PaymentTransitionApplies(current, incoming PaymentStatus) bool {
	if current == incoming {
		return false
	}
	return CanTransitionPayment(current, incoming)
}
