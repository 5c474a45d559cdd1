package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateAppointment books a service slot. Appointment, invoice and
// notification are created in one transaction, same as checkout, just
// without the inventory leg.
func (r *Repo) CreateAppointment(ctx context.Context, in AppointmentInput, now time.Time) (_ *AppointmentResult, err error) {
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

	pay := Payment{Status: PaymentPending, Method: in.Method, AmountCents: in.PriceCents}
	if in.Intent != nil {
		pay.ReferenceID = in.Intent.ReferenceID
		pay.ChargeID = in.Intent.ChargeID
		if in.Intent.AmountCents > 0 {
			pay.AmountCents = in.Intent.AmountCents
		}
	}

	a := &Appointment{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		CustomerName: u.FullName(),
		ServiceType:  in.ServiceType,
		Mechanic:     in.Mechanic,
		Date:         in.Date,
		TimeSlot:     in.TimeSlot,
		Status:       "Pending",
		PriceCents:   in.PriceCents,
		Payment:      pay,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO appointments(id, user_id, customer_name, service_type, mechanic,
			date, time_slot, status, price_cents,
			pay_reference_id, pay_charge_id, pay_amount_cents, pay_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12,$13,$14,$14)`,
		a.ID, a.UserID, a.CustomerName, a.ServiceType, a.Mechanic,
		a.Date, a.TimeSlot, a.Status, a.PriceCents,
		pay.ReferenceID, pay.ChargeID, pay.AmountCents, pay.Status, now); err != nil {
		return nil, mapPgError(err)
	}

	inv := BuildInvoiceFromAppointment(a, now)
	if err = insertInvoice(ctx, tx, inv); err != nil {
		return nil, mapPgError(err)
	}

	n := &NotificationLog{
		ID:            uuid.NewString(),
		UserID:        a.UserID,
		AppointmentID: a.ID,
		Type:          NotifAppointment,
		CustomerName:  a.CustomerName,
		Message:       fmt.Sprintf("%s booked a %s appointment", a.CustomerName, a.ServiceType),
		Status:        a.Status,
		CreatedAt:     now,
	}
	if err = insertNotification(ctx, tx, n); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &AppointmentResult{Appointment: a, Invoice: inv, Notification: n}, nil
}
