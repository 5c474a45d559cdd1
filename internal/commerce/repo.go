package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the pgx-backed Store. Every multi-record mutation runs inside a
// single transaction; concurrent mutators serialize on the order (or product)
// row via SELECT ... FOR UPDATE.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{DB: db} }

// mapPgError translates constraint violations into the domain taxonomy.
// A duplicate payment reference or idempotency key is a conflict, not a 500.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgerrcode.CheckViolation:
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}

// CreateCheckout runs the whole checkout as one transaction: stock decrement,
// order + items, invoice, stock log, cart pull, notification. Any failure
// rolls everything back; no partial state survives.
func (r *Repo) CreateCheckout(ctx context.Context, in CheckoutInput, now time.Time) (_ *CheckoutResult, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var u User
	err = tx.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, phone, address
		FROM users WHERE id=$1`, in.UserID).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, in.UserID)
	}
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	items := make([]OrderItem, 0, len(in.Lines))
	var total int64
	for _, l := range in.Lines {
		var p Product
		// FOR UPDATE locks the product row so two concurrent checkouts
		// against the same product serialize on the stock check.
		err = tx.QueryRow(ctx, `
			SELECT id, name, price_cents, stock
			FROM products WHERE id=$1 FOR UPDATE`, l.ProductID).
			Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, l.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if p.Stock < l.Qty {
			return nil, fmt.Errorf("%w: product %s has %d, need %d",
				ErrInsufficientStock, p.ID, p.Stock, l.Qty)
		}
		if _, err = tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at=$3 WHERE id=$1`,
			p.ID, l.Qty, now); err != nil {
			return nil, err
		}
		items = append(items, OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   p.ID,
			ProductName: p.Name,
			Qty:         l.Qty,
			PriceCents:  p.PriceCents,
			Status:      ItemForApproval,
		})
		total += p.PriceCents * int64(l.Qty)
	}

	pay := Payment{Status: PaymentPending, Method: in.PaymentMethod, AmountCents: total}
	if in.Intent != nil {
		pay.ReferenceID = in.Intent.ReferenceID
		pay.ChargeID = in.Intent.ChargeID
		if in.Intent.AmountCents > 0 {
			pay.AmountCents = in.Intent.AmountCents
		}
	}
	addr := in.DeliveryAddress
	if addr == "" {
		addr = u.Address
	}

	o := &Order{
		ID:              orderID,
		ExternalID:      in.ExternalID,
		UserID:          u.ID,
		CustomerName:    u.FullName(),
		CustomerEmail:   u.Email,
		CustomerPhone:   u.Phone,
		Items:           items,
		TotalCents:      total,
		PaymentMethod:   in.PaymentMethod,
		DeliveryAddress: addr,
		Notes:           in.Notes,
		Status:          OrderForApproval,
		Payment:         pay,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, customer_name, customer_email,
			customer_phone, status, total_cents, payment_method, delivery_address, notes,
			cancel_status, cancel_reason,
			pay_reference_id, pay_charge_id, pay_amount_cents, pay_status, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, '', '',
			NULLIF($12,''), $13, $14, $15, $16, $16)`,
		o.ID, o.ExternalID, o.UserID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
		o.Status, o.TotalCents, o.PaymentMethod, o.DeliveryAddress, o.Notes,
		pay.ReferenceID, pay.ChargeID, pay.AmountCents, pay.Status, now); err != nil {
		return nil, mapPgError(err)
	}

	for _, it := range items {
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, product_name, qty, price_cents, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, it.OrderID, it.ProductID, it.ProductName, it.Qty, it.PriceCents, it.Status); err != nil {
			return nil, err
		}
		if err = appendStockLog(ctx, tx, it.ProductID, orderID, -it.Qty, StockReasonOrder, now); err != nil {
			return nil, err
		}
	}

	inv := BuildInvoiceFromOrder(o, now)
	if err = insertInvoice(ctx, tx, inv); err != nil {
		return nil, mapPgError(err)
	}

	// Pull only the purchased product lines from the cart, not the whole cart.
	productIDs := make([]string, 0, len(items))
	for _, it := range items {
		productIDs = append(productIDs, it.ProductID)
	}
	if _, err = tx.Exec(ctx, `
		DELETE FROM cart_items WHERE user_id=$1 AND product_id = ANY($2)`,
		u.ID, productIDs); err != nil {
		return nil, err
	}

	n := NewOrderNotification(o, now)
	if err = insertNotification(ctx, tx, n); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: o, Invoice: inv, Notification: n}, nil
}

func appendStockLog(ctx context.Context, tx pgx.Tx, productID, orderID string, change int, reason string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_logs(id, product_id, order_id, change, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), productID, orderID, change, reason, now)
	return err
}

// releaseStock returns previously reserved quantity to the product. Pure
// increment; this is the only path besides manual admin action that adds
// stock back.
func releaseStock(ctx context.Context, tx pgx.Tx, productID string, qty int, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at=$3 WHERE id=$1`,
		productID, qty, now)
	return err
}

func insertInvoice(ctx context.Context, tx pgx.Tx, inv *Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO invoices(id, invoice_number, source_type, source_id,
			customer_name, customer_address, customer_email, customer_phone,
			payment_method, payment_status, reference_id, paid_at,
			subtotal_cents, total_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14,$15,$16,$16)`,
		inv.ID, inv.InvoiceNumber, inv.SourceType, inv.SourceID,
		inv.CustomerName, inv.CustomerAddress, inv.CustomerEmail, inv.CustomerPhone,
		inv.PaymentMethod, inv.PaymentStatus, inv.ReferenceID, inv.PaidAt,
		inv.SubtotalCents, inv.TotalCents, inv.Status, inv.CreatedAt); err != nil {
		return err
	}
	for i, it := range inv.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoice_items(invoice_id, position, description, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			inv.ID, i, it.Description, it.Qty, it.UnitPriceCents, it.LineTotalCents); err != nil {
			return err
		}
	}
	return nil
}

func insertNotification(ctx context.Context, tx pgx.Tx, n *NotificationLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notification_logs(id, user_id, order_id, appointment_id, type,
			customer_name, message, reason, status, created_at)
		VALUES ($1,NULLIF($2,''),NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10)`,
		n.ID, n.UserID, n.OrderID, n.AppointmentID, n.Type,
		n.CustomerName, n.Message, n.Reason, n.Status, n.CreatedAt)
	return err
}

const orderColumns = `
	o.id, COALESCE(o.external_id,''), o.user_id, o.customer_name, o.customer_email,
	o.customer_phone, o.status, o.total_cents, o.payment_method, o.delivery_address,
	o.notes, o.cancel_status, o.cancel_reason, o.cancelled_at,
	COALESCE(o.pay_reference_id,''), o.pay_charge_id, o.pay_amount_cents, o.pay_status,
	o.paid_at, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.CustomerName, &o.CustomerEmail,
		&o.CustomerPhone, &o.Status, &o.TotalCents, &o.PaymentMethod, &o.DeliveryAddress,
		&o.Notes, &o.Cancellation.Status, &o.Cancellation.Reason, &o.Cancellation.CancelledAt,
		&o.Payment.ReferenceID, &o.Payment.ChargeID, &o.Payment.AmountCents, &o.Payment.Status,
		&o.Payment.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	o.Payment.Method = o.PaymentMethod
	return &o, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadOrderItems(ctx context.Context, q querier, orderID string) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, qty, price_cents, status
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.Qty, &it.PriceCents, &it.Status); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repo) Order(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id=$1`, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = loadOrderItems(ctx, r.DB, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) OrderByExternalID(ctx context.Context, externalID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.external_id=$1`, externalID))
	if err != nil {
		return nil, err
	}
	if o.Items, err = loadOrderItems(ctx, r.DB, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// CartItems lists what is left in the user's cart. Checkout deletes the
// purchased lines, so right after an order this returns only the remainder.
func (r *Repo) CartItems(ctx context.Context, userID string) ([]CartItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, product_name, price_cents, qty, selected
		FROM cart_items WHERE user_id=$1 ORDER BY product_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CartItem
	for rows.Next() {
		var c CartItem
		if err := rows.Scan(&c.ProductID, &c.ProductName, &c.PriceCents, &c.Qty, &c.Selected); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.user_id=$1 ORDER BY o.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = loadOrderItems(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
