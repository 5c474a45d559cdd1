package commerce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements Store through overridable func fields so each test
// wires only the calls it expects.
type mockStore struct {
	orderByExternalID   func(ctx context.Context, externalID string) (*Order, error)
	createCheckout      func(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error)
	createAppointment   func(ctx context.Context, in AppointmentInput, now time.Time) (*AppointmentResult, error)
	applyPayment        func(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error)
	requestCancellation func(ctx context.Context, orderID, reason string, now time.Time) (*CancellationResult, error)
	resolveCancellation func(ctx context.Context, orderID string, accept bool, now time.Time) (*CancellationResult, error)
	updateItemStatuses  func(ctx context.Context, orderID string, changes []ItemStatusChange, now time.Time) (*Order, error)
}

var _ Store = (*mockStore)(nil)

func (m *mockStore) OrderByExternalID(ctx context.Context, externalID string) (*Order, error) {
	if m.orderByExternalID == nil {
		return nil, ErrNotFound
	}
	return m.orderByExternalID(ctx, externalID)
}

func (m *mockStore) CreateCheckout(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error) {
	return m.createCheckout(ctx, in, now)
}

func (m *mockStore) CreateAppointment(ctx context.Context, in AppointmentInput, now time.Time) (*AppointmentResult, error) {
	return m.createAppointment(ctx, in, now)
}

func (m *mockStore) ApplyPayment(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error) {
	return m.applyPayment(ctx, referenceID, status, amountCents, now)
}

func (m *mockStore) RequestCancellation(ctx context.Context, orderID, reason string, now time.Time) (*CancellationResult, error) {
	return m.requestCancellation(ctx, orderID, reason, now)
}

func (m *mockStore) ResolveCancellation(ctx context.Context, orderID string, accept bool, now time.Time) (*CancellationResult, error) {
	return m.resolveCancellation(ctx, orderID, accept, now)
}

func (m *mockStore) UpdateItemStatuses(ctx context.Context, orderID string, changes []ItemStatusChange, now time.Time) (*Order, error) {
	return m.updateItemStatuses(ctx, orderID, changes, now)
}

func (m *mockStore) Order(ctx context.Context, id string) (*Order, error) { return nil, ErrNotFound }
func (m *mockStore) CartItems(ctx context.Context, userID string) ([]CartItem, error) {
	return nil, nil
}
func (m *mockStore) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return nil, nil
}
func (m *mockStore) Invoice(ctx context.Context, id string) (*Invoice, error) {
	return nil, ErrNotFound
}
func (m *mockStore) Invoices(ctx context.Context) ([]Invoice, error) { return nil, nil }
func (m *mockStore) MarkNotificationRead(ctx context.Context, id string, now time.Time) error {
	return nil
}
func (m *mockStore) MarkAllNotificationsRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	return 0, nil
}

type emitted struct {
	entity, action, key string
}

// recorder captures fan-out without a broker.
type recorder struct {
	events []emitted
}

func (r *recorder) Emit(ctx context.Context, entity, action, correlationID string, payload any) {
	r.events = append(r.events, emitted{entity: entity, action: action, key: correlationID})
}

func newTestService(store Store) (*Service, *recorder) {
	rec := &recorder{}
	svc := NewService(store, rec)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, rec
}

func validCheckout() CheckoutInput {
	return CheckoutInput{
		UserID:        "user-1",
		Lines:         []CheckoutLine{{ProductID: "p1", Qty: 2}},
		PaymentMethod: "GCash",
	}
}

func TestCheckoutValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CheckoutInput)
	}{
		{"missing_user", func(in *CheckoutInput) { in.UserID = "" }},
		{"no_lines", func(in *CheckoutInput) { in.Lines = nil }},
		{"missing_product", func(in *CheckoutInput) { in.Lines[0].ProductID = "" }},
		{"zero_qty", func(in *CheckoutInput) { in.Lines[0].Qty = 0 }},
		{"negative_qty", func(in *CheckoutInput) { in.Lines[0].Qty = -3 }},
		{"unknown_method", func(in *CheckoutInput) { in.PaymentMethod = "Wire" }},
		{"intent_without_reference", func(in *CheckoutInput) { in.Intent = &PaymentIntent{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{
				createCheckout: func(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error) {
					t.Fatal("store must not be reached on invalid input")
					return nil, nil
				},
			}
			svc, rec := newTestService(store)

			in := validCheckout()
			tt.mutate(&in)
			_, err := svc.Checkout(context.Background(), in)

			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, rec.events)
		})
	}
}

func TestCheckoutDefaultsToGCash(t *testing.T) {
	var got CheckoutInput
	store := &mockStore{
		createCheckout: func(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error) {
			got = in
			return &CheckoutResult{
				Order:        &Order{ID: "o1", UserID: in.UserID},
				Invoice:      &Invoice{ID: "i1"},
				Notification: &NotificationLog{ID: "n1"},
			}, nil
		},
	}
	svc, _ := newTestService(store)

	in := validCheckout()
	in.PaymentMethod = ""
	_, err := svc.Checkout(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "GCash", got.PaymentMethod)
}

func TestCheckoutFansOutAfterCommit(t *testing.T) {
	store := &mockStore{
		createCheckout: func(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error) {
			return &CheckoutResult{
				Order:        &Order{ID: "o1", UserID: in.UserID, TotalCents: 300_00},
				Invoice:      &Invoice{ID: "i1"},
				Notification: &NotificationLog{ID: "n1"},
			}, nil
		},
	}
	svc, rec := newTestService(store)

	res, err := svc.Checkout(context.Background(), validCheckout())

	require.NoError(t, err)
	assert.False(t, res.Existed)
	require.Len(t, rec.events, 4)
	assert.Equal(t, emitted{EntityOrder, ActionCreate, "o1"}, rec.events[0])
	assert.Equal(t, emitted{EntityInvoice, ActionCreate, "i1"}, rec.events[1])
	assert.Equal(t, emitted{EntityCart, ActionUpdate, "user-1"}, rec.events[2])
	assert.Equal(t, emitted{EntityNotification, ActionCreate, "n1"}, rec.events[3])
}

func TestCheckoutStoreFailureEmitsNothing(t *testing.T) {
	store := &mockStore{
		createCheckout: func(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error) {
			return nil, ErrInsufficientStock
		},
	}
	svc, rec := newTestService(store)

	_, err := svc.Checkout(context.Background(), validCheckout())

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Empty(t, rec.events)
}

func TestCheckoutIdempotencyReplay(t *testing.T) {
	existing := &Order{ID: "o1", ExternalID: "key-1"}
	store := &mockStore{
		orderByExternalID: func(ctx context.Context, externalID string) (*Order, error) {
			assert.Equal(t, "key-1", externalID)
			return existing, nil
		},
		createCheckout: func(ctx context.Context, in CheckoutInput, now time.Time) (*CheckoutResult, error) {
			t.Fatal("replay must not create a second order")
			return nil, nil
		},
	}
	svc, rec := newTestService(store)

	in := validCheckout()
	in.ExternalID = "key-1"
	res, err := svc.Checkout(context.Background(), in)

	require.NoError(t, err)
	assert.True(t, res.Existed)
	assert.Same(t, existing, res.Order)
	assert.Empty(t, rec.events, "replays re-broadcast nothing")
}

func TestCheckoutIdempotencyLookupError(t *testing.T) {
	boom := errors.New("connection reset")
	store := &mockStore{
		orderByExternalID: func(ctx context.Context, externalID string) (*Order, error) {
			return nil, boom
		},
	}
	svc, _ := newTestService(store)

	in := validCheckout()
	in.ExternalID = "key-1"
	_, err := svc.Checkout(context.Background(), in)

	assert.ErrorIs(t, err, boom)
}

func TestBookAppointmentValidation(t *testing.T) {
	svc, rec := newTestService(&mockStore{})

	_, err := svc.BookAppointment(context.Background(), AppointmentInput{UserID: "u1"})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, rec.events)
}

func TestBookAppointmentFansOut(t *testing.T) {
	store := &mockStore{
		createAppointment: func(ctx context.Context, in AppointmentInput, now time.Time) (*AppointmentResult, error) {
			return &AppointmentResult{
				Appointment:  &Appointment{ID: "a1", UserID: in.UserID},
				Invoice:      &Invoice{ID: "i1"},
				Notification: &NotificationLog{ID: "n1"},
			}, nil
		},
	}
	svc, rec := newTestService(store)

	_, err := svc.BookAppointment(context.Background(), AppointmentInput{
		UserID:      "u1",
		ServiceType: "Tune-up",
		Date:        time.Now(),
		TimeSlot:    "10:00-11:00",
		PriceCents:  500_00,
	})

	require.NoError(t, err)
	require.Len(t, rec.events, 3)
	assert.Equal(t, EntityAppointment, rec.events[0].entity)
}

func TestReconcileValidation(t *testing.T) {
	tests := []struct {
		name string
		ev   WebhookEvent
	}{
		{"missing_reference", WebhookEvent{Status: "SUCCEEDED"}},
		{"missing_status", WebhookEvent{ReferenceID: "ref-1"}},
		{"unknown_status", WebhookEvent{ReferenceID: "ref-1", Status: "REFUNDED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, rec := newTestService(&mockStore{
				applyPayment: func(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error) {
					t.Fatal("store must not be reached on invalid webhook")
					return nil, nil
				},
			})

			_, err := svc.Reconcile(context.Background(), tt.ev)

			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, rec.events)
		})
	}
}

func TestReconcileNormalizesStatus(t *testing.T) {
	var gotStatus PaymentStatus
	store := &mockStore{
		applyPayment: func(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error) {
			gotStatus = status
			return &ReconcileResult{
				Applied:    true,
				SourceType: SourceOrder,
				Order:      &Order{ID: "o1", Status: OrderToShip},
				Invoice:    &Invoice{ID: "i1", Status: InvoicePaid},
			}, nil
		},
	}
	svc, rec := newTestService(store)

	res, err := svc.Reconcile(context.Background(), WebhookEvent{
		ReferenceID: "ref-1",
		Status:      "succeeded",
		AmountCents: 300_00,
	})

	require.NoError(t, err)
	assert.Equal(t, PaymentSucceeded, gotStatus)
	assert.True(t, res.Applied)
	require.Len(t, rec.events, 2)
	assert.Equal(t, emitted{EntityOrder, ActionUpdate, "o1"}, rec.events[0])
	assert.Equal(t, emitted{EntityInvoice, ActionUpdate, "i1"}, rec.events[1])
}

func TestReconcileReplayEmitsNothing(t *testing.T) {
	store := &mockStore{
		applyPayment: func(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error) {
			return &ReconcileResult{Applied: false, SourceType: SourceOrder, Invoice: &Invoice{ID: "i1"}}, nil
		},
	}
	svc, rec := newTestService(store)

	res, err := svc.Reconcile(context.Background(), WebhookEvent{ReferenceID: "ref-1", Status: "SUCCEEDED"})

	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, rec.events)
}

func TestReconcileAppointmentFansOut(t *testing.T) {
	store := &mockStore{
		applyPayment: func(ctx context.Context, referenceID string, status PaymentStatus, amountCents int64, now time.Time) (*ReconcileResult, error) {
			return &ReconcileResult{
				Applied:      true,
				SourceType:   SourceAppointment,
				Appointment:  &Appointment{ID: "a1"},
				Invoice:      &Invoice{ID: "i1"},
				Notification: &NotificationLog{ID: "n1"},
			}, nil
		},
	}
	svc, rec := newTestService(store)

	_, err := svc.Reconcile(context.Background(), WebhookEvent{ReferenceID: "ref-1", Status: "FAILED"})

	require.NoError(t, err)
	require.Len(t, rec.events, 3)
	assert.Equal(t, emitted{EntityAppointment, ActionUpdate, "a1"}, rec.events[0])
	assert.Equal(t, emitted{EntityNotification, ActionCreate, "n1"}, rec.events[2])
}

func TestRequestCancellationRequiresReason(t *testing.T) {
	svc, rec := newTestService(&mockStore{})

	_, err := svc.RequestCancellation(context.Background(), "o1", "")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, rec.events)
}

func TestResolveCancellationFansOut(t *testing.T) {
	store := &mockStore{
		resolveCancellation: func(ctx context.Context, orderID string, accept bool, now time.Time) (*CancellationResult, error) {
			assert.True(t, accept)
			return &CancellationResult{
				Order:        &Order{ID: orderID, Status: OrderCancelled},
				Invoice:      &Invoice{ID: "i1", Status: InvoiceCancelled},
				Deleted:      &NotificationLog{ID: "n-req"},
				Notification: &NotificationLog{ID: "n-acc"},
			}, nil
		},
	}
	svc, rec := newTestService(store)

	_, err := svc.AcceptCancellation(context.Background(), "o1")

	require.NoError(t, err)
	require.Len(t, rec.events, 4)
	assert.Equal(t, emitted{EntityNotification, ActionDelete, "n-req"}, rec.events[2])
	assert.Equal(t, emitted{EntityNotification, ActionCreate, "n-acc"}, rec.events[3])
}

func TestRejectCancellationPassesAcceptFalse(t *testing.T) {
	store := &mockStore{
		resolveCancellation: func(ctx context.Context, orderID string, accept bool, now time.Time) (*CancellationResult, error) {
			assert.False(t, accept)
			return &CancellationResult{
				Order:        &Order{ID: orderID},
				Notification: &NotificationLog{ID: "n-rej"},
			}, nil
		},
	}
	svc, _ := newTestService(store)

	_, err := svc.RejectCancellation(context.Background(), "o1")
	require.NoError(t, err)
}

func TestResolveCancellationInvalidState(t *testing.T) {
	store := &mockStore{
		resolveCancellation: func(ctx context.Context, orderID string, accept bool, now time.Time) (*CancellationResult, error) {
			return nil, ErrInvalidState
		},
	}
	svc, rec := newTestService(store)

	_, err := svc.AcceptCancellation(context.Background(), "o1")

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, rec.events)
}

func TestUpdateItemStatusesValidation(t *testing.T) {
	svc, _ := newTestService(&mockStore{})

	_, err := svc.UpdateItemStatuses(context.Background(), "o1", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateItemStatuses(context.Background(), "", []ItemStatusChange{{ProductID: "p1", Status: ItemToShip}})
	assert.ErrorIs(t, err, ErrValidation)
}
