package commerce

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NextInvoiceNumber yields "INV-<millis>-<suffix>". The millisecond prefix
// keeps numbers roughly sortable; the random suffix keeps two checkouts in
// the same millisecond from colliding on the unique index.
func NextInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// BuildInvoiceFromOrder projects an order into its financial record. Item and
// total fields are immutable after this point; the reconciler only touches the
// payment-related fields.
func BuildInvoiceFromOrder(o *Order, now time.Time) *Invoice {
	inv := &Invoice{
		ID:              uuid.NewString(),
		InvoiceNumber:   NextInvoiceNumber(now),
		SourceType:      SourceOrder,
		SourceID:        o.ID,
		CustomerName:    o.CustomerName,
		CustomerAddress: o.DeliveryAddress,
		CustomerEmail:   o.CustomerEmail,
		CustomerPhone:   o.CustomerPhone,
		PaymentMethod:   o.Payment.Method,
		PaymentStatus:   o.Payment.Status,
		ReferenceID:     o.Payment.ReferenceID,
		PaidAt:          o.Payment.PaidAt,
		Status:          InvoiceUnpaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, it := range o.Items {
		inv.Items = append(inv.Items, InvoiceItem{
			Description:    it.ProductName,
			Qty:            it.Qty,
			UnitPriceCents: it.PriceCents,
		})
	}
	inv.Recalculate()
	return inv
}

func BuildInvoiceFromAppointment(a *Appointment, now time.Time) *Invoice {
	inv := &Invoice{
		ID:            uuid.NewString(),
		InvoiceNumber: NextInvoiceNumber(now),
		SourceType:    SourceAppointment,
		SourceID:      a.ID,
		CustomerName:  a.CustomerName,
		PaymentMethod: a.Payment.Method,
		PaymentStatus: a.Payment.Status,
		ReferenceID:   a.Payment.ReferenceID,
		PaidAt:        a.Payment.PaidAt,
		Items: []InvoiceItem{{
			Description:    a.ServiceType,
			Qty:            1,
			UnitPriceCents: a.PriceCents,
		}},
		Status:    InvoiceUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv.Recalculate()
	return inv
}

// Recalculate enforces lineTotal = qty*unitPrice for every item and
// total = subtotal = sum of line totals. Called on every build; the
// database CHECK constraints back it up.
func (inv *Invoice) Recalculate() {
	var subtotal int64
	for i := range inv.Items {
		inv.Items[i].LineTotalCents = int64(inv.Items[i].Qty) * inv.Items[i].UnitPriceCents
		subtotal += inv.Items[i].LineTotalCents
	}
	inv.SubtotalCents = subtotal
	inv.TotalCents = subtotal
}

func (inv *Invoice) Validate() error {
	var subtotal int64
	for _, it := range inv.Items {
		if it.Qty < 1 {
			return fmt.Errorf("%w: invoice item %q qty %d", ErrValidation, it.Description, it.Qty)
		}
		if it.UnitPriceCents < 0 {
			return fmt.Errorf("%w: invoice item %q negative unit price", ErrValidation, it.Description)
		}
		if it.LineTotalCents != int64(it.Qty)*it.UnitPriceCents {
			return fmt.Errorf("%w: invoice item %q line total mismatch", ErrValidation, it.Description)
		}
		subtotal += it.LineTotalCents
	}
	if inv.SubtotalCents != subtotal || inv.TotalCents != subtotal {
		return fmt.Errorf("%w: invoice %s totals out of sync with items", ErrValidation, inv.InvoiceNumber)
	}
	return nil
}
