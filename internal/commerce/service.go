package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var paymentMethods = map[string]bool{
	"GCash":            true,
	"Cash on Delivery": true,
	"Pick up":          true,
}

// Service orchestrates the engine: it validates input, delegates the
// transactional work to the Store, and fans out real-time events strictly
// after commit. The notifier is injected once at construction; nothing in
// here reaches for process-wide state.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier, now: time.Now}
}

// Checkout turns a cart selection into an Order, its Invoice, the stock log
// entries and the order notification, all in one transaction. Any failure
// leaves no trace. With an ExternalID set, resubmitting the same checkout
// returns the already-created order instead of double-charging.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("%w: no items selected", ErrValidation)
	}
	for _, l := range in.Lines {
		if l.ProductID == "" {
			return nil, fmt.Errorf("%w: missing product id", ErrValidation)
		}
		if l.Qty <= 0 {
			return nil, fmt.Errorf("%w: invalid quantity %d for product %s", ErrValidation, l.Qty, l.ProductID)
		}
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = "GCash"
	}
	if !paymentMethods[in.PaymentMethod] {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, in.PaymentMethod)
	}
	if in.Intent != nil && in.Intent.ReferenceID == "" {
		return nil, fmt.Errorf("%w: payment intent without reference id", ErrValidation)
	}

	if in.ExternalID != "" {
		existing, err := s.store.OrderByExternalID(ctx, in.ExternalID)
		switch {
		case err == nil:
			log.Info().Str("order_id", existing.ID).Str("external_id", in.ExternalID).
				Msg("checkout replay, returning existing order")
			return &CheckoutResult{Order: existing, Existed: true}, nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	res, err := s.store.CreateCheckout(ctx, in, s.now())
	if err != nil {
		return nil, err
	}

	// Fan-out only after the transaction committed. Broadcasting earlier
	// could announce state that still rolls back.
	s.notifier.Emit(ctx, EntityOrder, ActionCreate, res.Order.ID, res.Order)
	s.notifier.Emit(ctx, EntityInvoice, ActionCreate, res.Invoice.ID, res.Invoice)
	s.notifier.Emit(ctx, EntityCart, ActionUpdate, in.UserID, map[string]string{"user_id": in.UserID})
	s.notifier.Emit(ctx, EntityNotification, ActionCreate, res.Notification.ID, res.Notification)

	log.Info().Str("order_id", res.Order.ID).Str("user_id", in.UserID).
		Int64("total_cents", res.Order.TotalCents).Msg("checkout committed")
	return res, nil
}

// BookAppointment creates the appointment, its invoice and the notification
// in one transaction. Same reconciliation path as orders afterwards.
func (s *Service) BookAppointment(ctx context.Context, in AppointmentInput) (*AppointmentResult, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if in.ServiceType == "" || in.TimeSlot == "" || in.Date.IsZero() {
		return nil, fmt.Errorf("%w: service type, date and time are required", ErrValidation)
	}
	if in.Method == "" {
		in.Method = "GCash"
	}
	if in.Intent != nil && in.Intent.ReferenceID == "" {
		return nil, fmt.Errorf("%w: payment intent without reference id", ErrValidation)
	}

	res, err := s.store.CreateAppointment(ctx, in, s.now())
	if err != nil {
		return nil, err
	}
	s.notifier.Emit(ctx, EntityAppointment, ActionCreate, res.Appointment.ID, res.Appointment)
	s.notifier.Emit(ctx, EntityInvoice, ActionCreate, res.Invoice.ID, res.Invoice)
	s.notifier.Emit(ctx, EntityNotification, ActionCreate, res.Notification.ID, res.Notification)

	log.Info().Str("appointment_id", res.Appointment.ID).Str("user_id", in.UserID).
		Msg("appointment booked")
	return res, nil
}

// Reconcile applies a provider-reported payment outcome. Safe to call any
// number of times with the same event; anything arriving after a terminal
// payment status is a no-op.
func (s *Service) Reconcile(ctx context.Context, ev WebhookEvent) (*ReconcileResult, error) {
	if ev.ReferenceID == "" {
		return nil, fmt.Errorf("%w: missing reference_id", ErrValidation)
	}
	if ev.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrValidation)
	}
	status, err := NormalizeProviderStatus(ev.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown provider status %q", ErrValidation, ev.Status)
	}

	res, err := s.store.ApplyPayment(ctx, ev.ReferenceID, status, ev.AmountCents, s.now())
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		log.Info().Str("reference_id", ev.ReferenceID).Str("status", string(status)).
			Msg("webhook replay, no-op")
		return res, nil
	}

	switch res.SourceType {
	case SourceOrder:
		s.notifier.Emit(ctx, EntityOrder, ActionUpdate, res.Order.ID, res.Order)
	case SourceAppointment:
		s.notifier.Emit(ctx, EntityAppointment, ActionUpdate, res.Appointment.ID, res.Appointment)
	}
	s.notifier.Emit(ctx, EntityInvoice, ActionUpdate, res.Invoice.ID, res.Invoice)
	if res.Notification != nil {
		s.notifier.Emit(ctx, EntityNotification, ActionCreate, res.Notification.ID, res.Notification)
	}

	log.Info().Str("reference_id", ev.ReferenceID).Str("status", string(status)).
		Str("source", string(res.SourceType)).Msg("payment reconciled")
	return res, nil
}

// RequestCancellation opens a cancellation request on an order. Only valid
// when no request exists yet; a reason is mandatory.
func (s *Service) RequestCancellation(ctx context.Context, orderID, reason string) (*CancellationResult, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrValidation)
	}

	res, err := s.store.RequestCancellation(ctx, orderID, reason, s.now())
	if err != nil {
		return nil, err
	}
	s.notifier.Emit(ctx, EntityOrder, ActionUpdate, res.Order.ID, res.Order)
	s.notifier.Emit(ctx, EntityNotification, ActionCreate, res.Notification.ID, res.Notification)
	return res, nil
}

func (s *Service) AcceptCancellation(ctx context.Context, orderID string) (*CancellationResult, error) {
	return s.resolveCancellation(ctx, orderID, true)
}

func (s *Service) RejectCancellation(ctx context.Context, orderID string) (*CancellationResult, error) {
	return s.resolveCancellation(ctx, orderID, false)
}

func (s *Service) resolveCancellation(ctx context.Context, orderID string, accept bool) (*CancellationResult, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrValidation)
	}
	res, err := s.store.ResolveCancellation(ctx, orderID, accept, s.now())
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, EntityOrder, ActionUpdate, res.Order.ID, res.Order)
	if res.Invoice != nil {
		s.notifier.Emit(ctx, EntityInvoice, ActionUpdate, res.Invoice.ID, res.Invoice)
	}
	// Delete-then-create so live clients drop the stale request from their
	// pending list instead of mutating it in place.
	if res.Deleted != nil {
		s.notifier.Emit(ctx, EntityNotification, ActionDelete, res.Deleted.ID, res.Deleted)
	}
	s.notifier.Emit(ctx, EntityNotification, ActionCreate, res.Notification.ID, res.Notification)

	log.Info().Str("order_id", orderID).Bool("accepted", accept).Msg("cancellation resolved")
	return res, nil
}

// UpdateItemStatuses applies shipping-lifecycle transitions to individual
// line items and rederives the top-level order status in the same write.
func (s *Service) UpdateItemStatuses(ctx context.Context, orderID string, changes []ItemStatusChange) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrValidation)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no item changes", ErrValidation)
	}
	o, err := s.store.UpdateItemStatuses(ctx, orderID, changes, s.now())
	if err != nil {
		return nil, err
	}
	s.notifier.Emit(ctx, EntityOrder, ActionUpdate, o.ID, o)
	return o, nil
}

func (s *Service) Order(ctx context.Context, id string) (*Order, error) {
	return s.store.Order(ctx, id)
}

func (s *Service) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.store.OrdersByUser(ctx, userID)
}

func (s *Service) CartItems(ctx context.Context, userID string) ([]CartItem, error) {
	return s.store.CartItems(ctx, userID)
}

func (s *Service) Invoice(ctx context.Context, id string) (*Invoice, error) {
	return s.store.Invoice(ctx, id)
}

func (s *Service) Invoices(ctx context.Context) ([]Invoice, error) {
	return s.store.Invoices(ctx)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing notification id", ErrValidation)
	}
	return s.store.MarkNotificationRead(ctx, id, s.now())
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	return s.store.MarkAllNotificationsRead(ctx, userID, s.now())
}
