package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrProvider wraps every failure talking to the payment provider. Callers
// can treat it as retryable; nothing in here retries automatically.
var ErrProvider = errors.New("payment provider error")

// Client talks to the Xendit e-wallet charge API. Every call carries a
// bounded timeout; a hung provider surfaces as ErrProvider, never a stall.
type Client struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
	HTTP        *http.Client
}

func NewClient(baseURL, apiKey, callbackURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		CallbackURL: callbackURL,
		HTTP:        &http.Client{Timeout: timeout},
	}
}

type Charge struct {
	ReferenceID string `json:"reference_id"`
	ChargeID    string `json:"charge_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountCents int64  `json:"amount_cents"`
}

type chargeRequest struct {
	ReferenceID       string            `json:"reference_id"`
	Currency          string            `json:"currency"`
	Amount            float64           `json:"amount"`
	CheckoutMethod    string            `json:"checkout_method"`
	ChannelCode       string            `json:"channel_code"`
	ChannelProperties map[string]string `json:"channel_properties"`
	CallbackURL       string            `json:"callback_url"`
}

type chargeResponse struct {
	ID      string `json:"id"`
	Actions struct {
		DesktopWebCheckoutURL string `json:"desktop_web_checkout_url"`
	} `json:"actions"`
}

// CreateGCashCharge initiates a one-time GCash charge. The returned reference
// id is what the later webhook will carry; it correlates the charge with
// exactly one order or appointment.
func (c *Client) CreateGCashCharge(ctx context.Context, userID string, amountCents int64) (*Charge, error) {
	referenceID := fmt.Sprintf("gcash-%d-%s", time.Now().UnixMilli(), userID)

	body, err := json.Marshal(chargeRequest{
		ReferenceID:    referenceID,
		Currency:       "PHP",
		Amount:         float64(amountCents) / 100,
		CheckoutMethod: "ONE_TIME_PAYMENT",
		ChannelCode:    "PH_GCASH",
		ChannelProperties: map[string]string{
			"success_redirect_url": "myapp://gcash-success",
			"failure_redirect_url": "myapp://gcash-failure",
		},
		CallbackURL: c.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/ewallets/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.APIKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		log.Error().Int("status", resp.StatusCode).Str("reference_id", referenceID).
			Msg("charge creation rejected")
		return nil, fmt.Errorf("%w: charge creation returned %d", ErrProvider, resp.StatusCode)
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}

	log.Info().Str("reference_id", referenceID).Str("charge_id", out.ID).
		Int64("amount_cents", amountCents).Msg("charge created")
	return &Charge{
		ReferenceID: referenceID,
		ChargeID:    out.ID,
		CheckoutURL: out.Actions.DesktopWebCheckoutURL,
		AmountCents: amountCents,
	}, nil
}
