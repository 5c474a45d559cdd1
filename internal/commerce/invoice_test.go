package commerce

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *Order {
	return &Order{
		ID:              "order-1",
		UserID:          "user-1",
		CustomerName:    "Juan Dela Cruz",
		CustomerEmail:   "juan@example.com",
		CustomerPhone:   "0917",
		DeliveryAddress: "Manila",
		Items: []OrderItem{
			{ProductID: "p1", ProductName: "Brake pads", Qty: 2, PriceCents: 150_00, Status: ItemForApproval},
			{ProductID: "p2", ProductName: "Chain kit", Qty: 1, PriceCents: 320_00, Status: ItemForApproval},
		},
		TotalCents:    620_00,
		PaymentMethod: "GCash",
		Status:        OrderForApproval,
		Payment: Payment{
			ReferenceID: "gcash-1-user-1",
			AmountCents: 620_00,
			Status:      PaymentPending,
			Method:      "GCash",
		},
	}
}

func TestBuildInvoiceFromOrder(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	o := testOrder()

	inv := BuildInvoiceFromOrder(o, now)

	assert.Equal(t, SourceOrder, inv.SourceType)
	assert.Equal(t, o.ID, inv.SourceID)
	assert.Equal(t, InvoiceUnpaid, inv.Status)
	assert.Equal(t, PaymentPending, inv.PaymentStatus)
	assert.Equal(t, o.Payment.ReferenceID, inv.ReferenceID)
	assert.Equal(t, o.CustomerName, inv.CustomerName)
	require.Len(t, inv.Items, 2)

	assert.Equal(t, int64(300_00), inv.Items[0].LineTotalCents)
	assert.Equal(t, int64(320_00), inv.Items[1].LineTotalCents)
	assert.Equal(t, int64(620_00), inv.SubtotalCents)
	assert.Equal(t, inv.SubtotalCents, inv.TotalCents)

	require.NoError(t, inv.Validate())
}

func TestBuildInvoiceFromAppointment(t *testing.T) {
	now := time.Now().UTC()
	a := &Appointment{
		ID:           "appt-1",
		UserID:       "user-1",
		CustomerName: "Juan Dela Cruz",
		ServiceType:  "Tune-up",
		PriceCents:   500_00,
		Payment:      Payment{ReferenceID: "gcash-2-user-1", Status: PaymentPending, Method: "GCash"},
	}

	inv := BuildInvoiceFromAppointment(a, now)

	assert.Equal(t, SourceAppointment, inv.SourceType)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Tune-up", inv.Items[0].Description)
	assert.Equal(t, int64(500_00), inv.TotalCents)
	require.NoError(t, inv.Validate())
}

func TestInvoiceValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name   string
		mutate func(inv *Invoice)
	}{
		{
			name:   "line_total_drift",
			mutate: func(inv *Invoice) { inv.Items[0].LineTotalCents += 1 },
		},
		{
			name:   "total_out_of_sync",
			mutate: func(inv *Invoice) { inv.TotalCents += 100 },
		},
		{
			name:   "subtotal_out_of_sync",
			mutate: func(inv *Invoice) { inv.SubtotalCents -= 100 },
		},
		{
			name:   "zero_quantity",
			mutate: func(inv *Invoice) { inv.Items[0].Qty = 0 },
		},
		{
			name: "negative_unit_price",
			mutate: func(inv *Invoice) {
				inv.Items[0].UnitPriceCents = -1
				inv.Items[0].LineTotalCents = int64(inv.Items[0].Qty) * -1
				inv.Recalculate()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := BuildInvoiceFromOrder(testOrder(), now)
			require.NoError(t, inv.Validate())
			tt.mutate(inv)
			assert.ErrorIs(t, inv.Validate(), ErrValidation)
		})
	}
}

func TestNextInvoiceNumberUniqueWithinMillisecond(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NextInvoiceNumber(now)
	b := NextInvoiceNumber(now)

	assert.True(t, strings.HasPrefix(a, "INV-1717243200000-"), a)
	assert.NotEqual(t, a, b)
}

func TestRecalculateRepairsTotals(t *testing.T) {
	inv := BuildInvoiceFromOrder(testOrder(), time.Now().UTC())
	inv.Items[0].UnitPriceCents = 200_00
	inv.Recalculate()
	assert.Equal(t, int64(400_00), inv.Items[0].LineTotalCents)
	assert.Equal(t, int64(720_00), inv.TotalCents)
	require.NoError(t, inv.Validate())
}
