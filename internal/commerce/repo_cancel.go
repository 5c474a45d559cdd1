package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RequestCancellation opens the cancellation sub-state machine on an order.
// Valid only when no request exists yet.
func (r *Repo) RequestCancellation(ctx context.Context, orderID, reason string, now time.Time) (_ *CancellationResult, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}
	if !CanTransitionCancellation(o.Cancellation.Status, CancelRequested) {
		return nil, fmt.Errorf("%w: cancellation already %s on order %s",
			ErrInvalidState, o.Cancellation.Status, orderID)
	}
	if o.Items, err = loadOrderItems(ctx, tx, o.ID); err != nil {
		return nil, err
	}

	o.Cancellation.Status = CancelRequested
	o.Cancellation.Reason = reason
	o.UpdatedAt = now
	if _, err = tx.Exec(ctx, `
		UPDATE orders SET cancel_status=$2, cancel_reason=$3, updated_at=$4 WHERE id=$1`,
		o.ID, CancelRequested, reason, now); err != nil {
		return nil, err
	}

	n := NewCancellationNotification(o, NotifCancellationRequested, reason, now)
	if err = insertNotification(ctx, tx, n); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &CancellationResult{Order: o, Notification: n}, nil
}

// ResolveCancellation accepts or rejects a pending request. The Requested
// check runs under the order row lock, so of two racing resolutions exactly
// one wins and the other fails with ErrInvalidState.
func (r *Repo) ResolveCancellation(ctx context.Context, orderID string, accept bool, now time.Time) (_ *CancellationResult, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}
	if o.Cancellation.Status != CancelRequested {
		return nil, fmt.Errorf("%w: cancellation is %q, want %q on order %s",
			ErrInvalidState, o.Cancellation.Status, CancelRequested, orderID)
	}
	if o.Items, err = loadOrderItems(ctx, tx, o.ID); err != nil {
		return nil, err
	}

	res := &CancellationResult{}
	notifType := NotifCancellationRejected

	if accept {
		notifType = NotifCancellationAccepted
		// Force every item to Cancelled, giving reserved stock back for the
		// ones whose reservation is still held.
		for i := range o.Items {
			if ShouldReleaseStock(o.Items[i].Status, o.Cancellation.Status, o.Payment.Status) {
				if err = releaseStock(ctx, tx, o.Items[i].ProductID, o.Items[i].Qty, now); err != nil {
					return nil, err
				}
				if err = appendStockLog(ctx, tx, o.Items[i].ProductID, o.ID, o.Items[i].Qty, StockReasonCancelled, now); err != nil {
					return nil, err
				}
			}
			o.Items[i].Status = ItemCancelled
		}
		if _, err = tx.Exec(ctx, `
			UPDATE order_items SET status=$2 WHERE order_id=$1`, o.ID, ItemCancelled); err != nil {
			return nil, err
		}

		o.Cancellation.Status = CancelAccepted
		o.Cancellation.CancelledAt = &now
		o.Status = OrderCancelled
		if _, err = tx.Exec(ctx, `
			UPDATE orders SET cancel_status=$2, cancelled_at=$3, status=$4, updated_at=$3 WHERE id=$1`,
			o.ID, CancelAccepted, now, OrderCancelled); err != nil {
			return nil, err
		}

		if _, err = tx.Exec(ctx, `
			UPDATE invoices SET status=$3, updated_at=$4 WHERE source_type=$1 AND source_id=$2`,
			SourceOrder, o.ID, InvoiceCancelled, now); err != nil {
			return nil, err
		}
		if res.Invoice, err = r.invoiceBySource(ctx, tx, SourceOrder, o.ID); err != nil {
			return nil, err
		}
	} else {
		// Reject keeps the pre-cancellation item statuses untouched.
		o.Cancellation.Status = CancelRejected
		if _, err = tx.Exec(ctx, `
			UPDATE orders SET cancel_status=$2, updated_at=$3 WHERE id=$1`,
			o.ID, CancelRejected, now); err != nil {
			return nil, err
		}
	}
	o.UpdatedAt = now

	// Delete the request notification and write a fresh terminal one.
	// Delete+create rather than update, so live subscribers drop the stale
	// request from their pending-actions list.
	res.Deleted, err = deleteRequestNotification(ctx, tx, o.ID)
	if err != nil {
		return nil, err
	}
	res.Notification = NewCancellationNotification(o, notifType, o.Cancellation.Reason, now)
	if err = insertNotification(ctx, tx, res.Notification); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	res.Order = o
	return res, nil
}

func deleteRequestNotification(ctx context.Context, tx pgx.Tx, orderID string) (*NotificationLog, error) {
	var n NotificationLog
	err := tx.QueryRow(ctx, `
		DELETE FROM notification_logs
		WHERE order_id=$1 AND type=$2
		RETURNING id, COALESCE(user_id,''), COALESCE(order_id,''), type, message, created_at`,
		orderID, NotifCancellationRequested).
		Scan(&n.ID, &n.UserID, &n.OrderID, &n.Type, &n.Message, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpdateItemStatuses applies shipping transitions item by item, validating
// each against the transition table, then rewrites the derived order status
// in the same transaction. A stale top-level status never escapes.
func (r *Repo) UpdateItemStatuses(ctx context.Context, orderID string, changes []ItemStatusChange, now time.Time) (_ *Order, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}
	if o.Items, err = loadOrderItems(ctx, tx, o.ID); err != nil {
		return nil, err
	}

	byProduct := make(map[string]*OrderItem, len(o.Items))
	for i := range o.Items {
		byProduct[o.Items[i].ProductID] = &o.Items[i]
	}
	for _, ch := range changes {
		it, ok := byProduct[ch.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: order %s has no item for product %s", ErrNotFound, orderID, ch.ProductID)
		}
		if it.Status == ch.Status {
			continue
		}
		if !CanTransitionItem(it.Status, ch.Status) {
			return nil, fmt.Errorf("%w: item %s cannot go %s -> %s",
				ErrInvalidState, it.ProductID, it.Status, ch.Status)
		}
		it.Status = ch.Status
		if _, err = tx.Exec(ctx, `
			UPDATE order_items SET status=$2 WHERE id=$1`, it.ID, it.Status); err != nil {
			return nil, err
		}
	}

	o.Status = DeriveOrderStatus(itemStatuses(o.Items), o.Cancellation.Status, o.Payment.Status)
	o.UpdatedAt = now
	if _, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, o.ID, o.Status, now); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
