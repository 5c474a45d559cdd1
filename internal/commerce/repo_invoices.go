package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const invoiceColumns = `
	i.id, i.invoice_number, i.source_type, i.source_id,
	i.customer_name, i.customer_address, i.customer_email, i.customer_phone,
	i.payment_method, i.payment_status, COALESCE(i.reference_id,''), i.paid_at,
	i.subtotal_cents, i.total_cents, i.status, i.created_at, i.updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.SourceType, &inv.SourceID,
		&inv.CustomerName, &inv.CustomerAddress, &inv.CustomerEmail, &inv.CustomerPhone,
		&inv.PaymentMethod, &inv.PaymentStatus, &inv.ReferenceID, &inv.PaidAt,
		&inv.SubtotalCents, &inv.TotalCents, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func loadInvoiceItems(ctx context.Context, q querier, invoiceID string) ([]InvoiceItem, error) {
	rows, err := q.Query(ctx, `
		SELECT description, qty, unit_price_cents, line_total_cents
		FROM invoice_items WHERE invoice_id=$1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.Description, &it.Qty, &it.UnitPriceCents, &it.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repo) invoiceBySource(ctx context.Context, q querier, st SourceType, sourceID string) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices i WHERE i.source_type=$1 AND i.source_id=$2`, st, sourceID))
	if err != nil {
		return nil, err
	}
	if inv.Items, err = loadInvoiceItems(ctx, q, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *Repo) Invoice(ctx context.Context, id string) (*Invoice, error) {
	inv, err := scanInvoice(r.DB.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.id=$1`, id))
	if err != nil {
		return nil, err
	}
	if inv.Items, err = loadInvoiceItems(ctx, r.DB, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *Repo) Invoices(ctx context.Context) ([]Invoice, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices i ORDER BY i.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = loadInvoiceItems(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkNotificationRead stamps read_at once; marking an already-read
// notification again is a no-op, not an error.
func (r *Repo) MarkNotificationRead(ctx context.Context, id string, now time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE notification_logs SET read_at=$2 WHERE id=$1 AND read_at IS NULL`, id, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.DB.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM notification_logs WHERE id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: notification %s", ErrNotFound, id)
		}
	}
	return nil
}

func (r *Repo) MarkAllNotificationsRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE notification_logs SET read_at=$2 WHERE user_id=$1 AND read_at IS NULL`, userID, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
