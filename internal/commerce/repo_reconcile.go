package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// errNoMatch distinguishes "no record carries this reference id" from a
// real failure while the reconciler walks order -> appointment.
var errNoMatch = errors.New("no matching record")

// ApplyPayment reconciles a provider-reported outcome with whichever record
// owns the reference id. Orders are tried first, then appointments. The
// transition check runs under a row lock, so replayed and out-of-order
// webhooks collapse into no-ops instead of corrupting terminal state.
func (r *Repo) ApplyPayment(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error) {
	res, err := r.applyPaymentToOrder(ctx, referenceID, status, amountCents, now)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, errNoMatch) {
		return nil, err
	}

	res, err = r.applyPaymentToAppointment(ctx, referenceID, status, amountCents, now)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, errNoMatch) {
		return nil, fmt.Errorf("%w: no order or appointment for reference %s", ErrNotFound, referenceID)
	}
	return nil, err
}

func (r *Repo) applyPaymentToOrder(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (_ *ReconcileResult, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.pay_reference_id=$1 FOR UPDATE`, referenceID))
	if errors.Is(err, ErrNotFound) {
		return nil, errNoMatch
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = loadOrderItems(ctx, tx, o.ID); err != nil {
		return nil, err
	}

	if !PaymentTransitionApplies(o.Payment.Status, status) {
		inv, err := r.invoiceBySource(ctx, tx, SourceOrder, o.ID)
		if err != nil {
			return nil, err
		}
		return &ReconcileResult{SourceType: SourceOrder, Order: o, Invoice: inv}, nil
	}

	prevPay := o.Payment.Status
	o.Payment.Status = status
	if amountCents > 0 {
		o.Payment.AmountCents = amountCents
	}
	var paidAt *time.Time
	if status == PaymentSucceeded {
		paidAt = &now
		// Approved and paid: move every waiting item into the shipping
		// pipeline. Items a cancellation already diverted stay put.
		for i := range o.Items {
			if o.Items[i].Status == ItemForApproval {
				o.Items[i].Status = ItemToShip
			}
		}
		if _, err = tx.Exec(ctx, `
			UPDATE order_items SET status=$2 WHERE order_id=$1 AND status=$3`,
			o.ID, ItemToShip, ItemForApproval); err != nil {
			return nil, err
		}
	}
	o.Payment.PaidAt = paidAt

	if status == PaymentFailed || status == PaymentExpired {
		reason := StockReasonPaymentFailed
		if status == PaymentExpired {
			reason = StockReasonPaymentExpired
		}
		for _, it := range o.Items {
			if !ShouldReleaseStock(it.Status, o.Cancellation.Status, prevPay) {
				continue
			}
			if err = releaseStock(ctx, tx, it.ProductID, it.Qty, now); err != nil {
				return nil, err
			}
			if err = appendStockLog(ctx, tx, it.ProductID, o.ID, it.Qty, reason, now); err != nil {
				return nil, err
			}
		}
	}

	o.Status = DeriveOrderStatus(itemStatuses(o.Items), o.Cancellation.Status, o.Payment.Status)
	o.UpdatedAt = now
	if _, err = tx.Exec(ctx, `
		UPDATE orders SET pay_status=$2, pay_amount_cents=$3, paid_at=$4, status=$5, updated_at=$6
		WHERE id=$1`,
		o.ID, o.Payment.Status, o.Payment.AmountCents, paidAt, o.Status, now); err != nil {
		return nil, err
	}

	inv, err := r.updateInvoicePayment(ctx, tx, SourceOrder, o.ID, status, paidAt, now)
	if err != nil {
		return nil, err
	}

	n := NewPaymentNotification(o, status, now)
	if err = insertNotification(ctx, tx, n); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ReconcileResult{
		Applied:      true,
		SourceType:   SourceOrder,
		Order:        o,
		Invoice:      inv,
		Notification: n,
	}, nil
}

func (r *Repo) applyPaymentToAppointment(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (_ *ReconcileResult, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var a Appointment
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, customer_name, service_type, mechanic, date, time_slot,
			status, price_cents, COALESCE(pay_reference_id,''), pay_charge_id,
			pay_amount_cents, pay_status, paid_at, created_at, updated_at
		FROM appointments WHERE pay_reference_id=$1 FOR UPDATE`, referenceID).
		Scan(&a.ID, &a.UserID, &a.CustomerName, &a.ServiceType, &a.Mechanic, &a.Date,
			&a.TimeSlot, &a.Status, &a.PriceCents, &a.Payment.ReferenceID, &a.Payment.ChargeID,
			&a.Payment.AmountCents, &a.Payment.Status, &a.Payment.PaidAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoMatch
	}
	if err != nil {
		return nil, err
	}

	if !PaymentTransitionApplies(a.Payment.Status, status) {
		inv, err := r.invoiceBySource(ctx, tx, SourceAppointment, a.ID)
		if err != nil {
			return nil, err
		}
		return &ReconcileResult{SourceType: SourceAppointment, Appointment: &a, Invoice: inv}, nil
	}

	a.Payment.Status = status
	if amountCents > 0 {
		a.Payment.AmountCents = amountCents
	}
	var paidAt *time.Time
	switch status {
	case PaymentSucceeded:
		paidAt = &now
		a.Status = "Confirmed"
	case PaymentFailed, PaymentExpired:
		a.Status = "Cancelled"
	}
	a.Payment.PaidAt = paidAt
	a.UpdatedAt = now

	// Appointments never touch inventory, so there is no stock to roll back.
	if _, err = tx.Exec(ctx, `
		UPDATE appointments SET pay_status=$2, pay_amount_cents=$3, paid_at=$4, status=$5, updated_at=$6
		WHERE id=$1`,
		a.ID, a.Payment.Status, a.Payment.AmountCents, paidAt, a.Status, now); err != nil {
		return nil, err
	}

	inv, err := r.updateInvoicePayment(ctx, tx, SourceAppointment, a.ID, status, paidAt, now)
	if err != nil {
		return nil, err
	}

	n := NewAppointmentPaymentNotification(&a, status, now)
	if err = insertNotification(ctx, tx, n); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ReconcileResult{
		Applied:      true,
		SourceType:   SourceAppointment,
		Appointment:  &a,
		Invoice:      inv,
		Notification: n,
	}, nil
}

// updateInvoicePayment mirrors the payment outcome onto the linked invoice
// inside the same transaction as the order/appointment update, so no reader
// ever sees the two out of sync. Item and total fields stay untouched.
func (r *Repo) updateInvoicePayment(ctx context.Context, tx pgx.Tx, st SourceType, sourceID string, status PaymentStatus, paidAt *time.Time, now time.Time) (*Invoice, error) {
	invStatus := invoiceStatusFor(status)
	if _, err := tx.Exec(ctx, `
		UPDATE invoices SET payment_status=$3, status=$4, paid_at=$5, updated_at=$6
		WHERE source_type=$1 AND source_id=$2`,
		st, sourceID, status, invStatus, paidAt, now); err != nil {
		return nil, err
	}
	return r.invoiceBySource(ctx, tx, st, sourceID)
}

func invoiceStatusFor(status PaymentStatus) InvoiceStatus {
	switch status {
	case PaymentSucceeded:
		return InvoicePaid
	case PaymentFailed, PaymentExpired:
		return InvoiceCancelled
	default:
		return InvoiceUnpaid
	}
}

func itemStatuses(items []OrderItem) []ItemStatus {
	out := make([]ItemStatus, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}
