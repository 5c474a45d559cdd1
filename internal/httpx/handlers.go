package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/motoxelerate/orderflow/internal/commerce"
	"github.com/motoxelerate/orderflow/internal/metrics"
	"github.com/motoxelerate/orderflow/internal/payments"
	"github.com/motoxelerate/orderflow/internal/redisx"
)

type Handler struct {
	Svc      *commerce.Service
	Payments *payments.Client
	Redis    *redis.Client
	Metrics  *metrics.Metrics
}

func (h *Handler) Register(r *chi.Mux) {
	r.Route("/api", func(api chi.Router) {
		api.Use(h.observe)
		api.Post("/orders", h.checkout)
		api.Get("/orders/{id}", h.getOrder)
		api.Get("/orders/{id}/status", h.getOrderStatus)
		api.Get("/orders/user/{userID}", h.listUserOrders)
		api.Put("/orders/{id}", h.updateItemStatuses)
		api.Post("/orders/{id}/cancellation", h.requestCancellation)
		api.Post("/orders/{id}/cancellation/accept", h.acceptCancellation)
		api.Post("/orders/{id}/cancellation/reject", h.rejectCancellation)
		api.Post("/appointments", h.bookAppointment)
		api.Post("/webhooks", h.webhook)
		api.Post("/payments/gcash", h.createCharge)
		api.Get("/carts/{userID}", h.listCartItems)
		api.Get("/invoices", h.listInvoices)
		api.Get("/invoices/{id}", h.getInvoice)
		api.Put("/notifications/{id}/read", h.markNotificationRead)
		api.Put("/notifications/user/{userID}/read-all", h.markAllNotificationsRead)
	})
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		h.Metrics.LatencyMS.WithLabelValues(route).
			Observe(float64(time.Since(start).Milliseconds()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, commerce.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, commerce.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, commerce.ErrInsufficientStock),
		errors.Is(err, commerce.ErrInvalidState),
		errors.Is(err, commerce.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, commerce.ErrExternalService), errors.Is(err, payments.ErrProvider):
		code = http.StatusBadGateway
	default:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type checkoutRequest struct {
	UserID          string                  `json:"user_id"`
	Items           []commerce.CheckoutLine `json:"items"`
	PaymentMethod   string                  `json:"payment_method"`
	DeliveryAddress string                  `json:"delivery_address"`
	Notes           string                  `json:"notes"`
	Payment         *commerce.PaymentIntent `json:"payment,omitempty"`
}

type checkoutResponse struct {
	Order        *commerce.Order           `json:"order"`
	Invoice      *commerce.Invoice         `json:"invoice,omitempty"`
	Notification *commerce.NotificationLog `json:"notification,omitempty"`
	Idempotent   bool                      `json:"idempotent"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.Checkout(ctx, commerce.CheckoutInput{
		UserID:          req.UserID,
		ExternalID:      r.Header.Get("Idempotency-Key"),
		Lines:           req.Items,
		PaymentMethod:   req.PaymentMethod,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		Intent:          req.Payment,
	})
	if err != nil {
		h.Metrics.Checkouts.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	h.Metrics.Checkouts.WithLabelValues("ok").Inc()

	// Fast-path caches; the database is the truth either way.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemCheckout, key), res.Order.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheOrderStatus(ctx, res.Order)

	code := http.StatusCreated
	if res.Existed {
		code = http.StatusOK
	}
	writeJSON(w, code, checkoutResponse{
		Order:        res.Order,
		Invoice:      res.Invoice,
		Notification: res.Notification,
		Idempotent:   res.Existed,
	})
}

func (h *Handler) cacheOrderStatus(ctx context.Context, o *commerce.Order) {
	b, _ := json.Marshal(map[string]any{"status": o.Status, "payment_status": o.Payment.Status})
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err()
}

type webhookRequest struct {
	Data struct {
		ReferenceID  string  `json:"reference_id"`
		Status       string  `json:"status"`
		ChargeAmount float64 `json:"charge_amount"`
	} `json:"data"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Metrics.Webhooks.WithLabelValues("malformed").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.Reconcile(ctx, commerce.WebhookEvent{
		ReferenceID: req.Data.ReferenceID,
		Status:      req.Data.Status,
		// round, don't truncate: 19.99 pesos is 1999 centavos, not 1998
		AmountCents: int64(math.Round(req.Data.ChargeAmount * 100)),
	})
	if err != nil {
		switch {
		case errors.Is(err, commerce.ErrValidation):
			h.Metrics.Webhooks.WithLabelValues("malformed").Inc()
		case errors.Is(err, commerce.ErrNotFound):
			h.Metrics.Webhooks.WithLabelValues("unmatched").Inc()
		default:
			h.Metrics.Webhooks.WithLabelValues("error").Inc()
		}
		writeError(w, err)
		return
	}
	h.Metrics.Webhooks.WithLabelValues("ok").Inc()

	// Best-effort replay marker; the payment-status CAS already made the
	// apply idempotent.
	_ = h.Redis.Set(ctx,
		fmt.Sprintf(redisx.KeyWebhookDedup, req.Data.ReferenceID, req.Data.Status),
		"1", redisx.TTLDedup).Err()
	if res.Order != nil {
		h.cacheOrderStatus(ctx, res.Order)
	}

	writeJSON(w, http.StatusOK, map[string]any{"applied": res.Applied})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.Order(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves the poll-heavy status check from Redis when it can,
// falling back to the database.
func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	o, err := h.Svc.Order(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheOrderStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"status": o.Status, "payment_status": o.Payment.Status})
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, err := h.Svc.OrdersByUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type itemStatusRequest struct {
	Items []commerce.ItemStatusChange `json:"items"`
}

func (h *Handler) updateItemStatuses(w http.ResponseWriter, r *http.Request) {
	var req itemStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.UpdateItemStatuses(ctx, chi.URLParam(r, "id"), req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheOrderStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

type cancellationRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) requestCancellation(w http.ResponseWriter, r *http.Request) {
	var req cancellationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.RequestCancellation(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Order)
}

func (h *Handler) acceptCancellation(w http.ResponseWriter, r *http.Request) {
	h.resolveCancellation(w, r, true)
}

func (h *Handler) rejectCancellation(w http.ResponseWriter, r *http.Request) {
	h.resolveCancellation(w, r, false)
}

func (h *Handler) resolveCancellation(w http.ResponseWriter, r *http.Request, accept bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var (
		res *commerce.CancellationResult
		err error
	)
	if accept {
		res, err = h.Svc.AcceptCancellation(ctx, chi.URLParam(r, "id"))
	} else {
		res, err = h.Svc.RejectCancellation(ctx, chi.URLParam(r, "id"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheOrderStatus(ctx, res.Order)
	writeJSON(w, http.StatusOK, res.Order)
}

type appointmentRequest struct {
	UserID      string                  `json:"user_id"`
	ServiceType string                  `json:"service_type"`
	Mechanic    string                  `json:"mechanic"`
	Date        time.Time               `json:"date"`
	Time        string                  `json:"time"`
	PriceCents  int64                   `json:"price_cents"`
	Method      string                  `json:"payment_method"`
	Payment     *commerce.PaymentIntent `json:"payment,omitempty"`
}

func (h *Handler) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.BookAppointment(ctx, commerce.AppointmentInput{
		UserID:      req.UserID,
		ServiceType: req.ServiceType,
		Mechanic:    req.Mechanic,
		Date:        req.Date,
		TimeSlot:    req.Time,
		PriceCents:  req.PriceCents,
		Method:      req.Method,
		Intent:      req.Payment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type chargeRequest struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (h *Handler) createCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AmountCents <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	charge, err := h.Payments.CreateGCashCharge(ctx, req.UserID, req.AmountCents)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("charge creation failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, charge)
}

func (h *Handler) listCartItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Svc.CartItems(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []commerce.CartItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	invs, err := h.Svc.Invoices(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	inv, err := h.Svc.Invoice(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Svc.MarkNotificationRead(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Svc.MarkAllNotificationsRead(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "marked": n})
}
