// Package stripe implements the Stripe checkout-session driver.
//
// Stripe's API is form-encoded. Verify takes a checkout session id.
// Webhooks carry a Stripe-Signature header of comma-separated fields;
// the v1 value is HMAC-SHA256 over "<t>.<raw body>" and both t and v1
// must be present or verification fails closed.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Config holds Stripe credentials.
type Config struct {
	SecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com/v1"`
	Timeout       time.Duration `envconfig:"STRIPE_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for Stripe.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Stripe driver.
func New(cfg Config, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Driver returns the provider identifier.
func (d *Driver) Driver() string { return gateway.ProviderStripe }

// Initialize creates a checkout session and returns its hosted URL.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	form := url.Values{}
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(string(req.Amount.Currency)))
	form.Set("line_items[0][price_data][product_data][name]", "Payment for Order "+req.Reference)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", req.Amount.AmountMinor))
	form.Set("line_items[0][quantity]", "1")
	form.Set("mode", "payment")
	form.Set("success_url", req.CallbackURL+"?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", req.CallbackURL+"?status=cancelled")
	form.Set("customer_email", req.Email)
	form.Set("client_reference_id", req.Reference)

	data, err := d.postForm(ctx, "initialize", "/checkout/sessions", form, req.Reference)
	if err != nil {
		return nil, err
	}

	d.logger.Info("stripe checkout session created",
		"reference", req.Reference,
		"session_id", stringField(data, "id"),
	)

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(data, "url"),
		ProviderReference: stringField(data, "id"),
		VerifyReference:   stringField(data, "id"),
		Metadata:          data,
	}, nil
}

// Verify polls a checkout session by its id.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.get(ctx, "verify", "/checkout/sessions/"+reference)
	if err != nil {
		return nil, err
	}

	status := gateway.StatusPending
	if stringField(data, "payment_status") == "paid" {
		status = gateway.StatusSuccess
	}

	currency := currencyFromAny(data["currency"])
	amount, err := gateway.AmountFromMinor(data["amount_total"], currency)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		Metadata:  data,
	}, nil
}

// ValidateWebhook parses the Stripe-Signature header ("t=...,v1=...")
// and checks HMAC-SHA256 over "<t>.<raw body>". Both fields are
// required; a missing webhook secret fails closed.
func (d *Driver) ValidateWebhook(_ context.Context, payload []byte, signature string) bool {
	if d.cfg.WebhookSecret == "" {
		return false
	}

	var timestamp, v1 string
	for _, part := range strings.Split(signature, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = part[2:]
		case strings.HasPrefix(part, "v1="):
			v1 = part[3:]
		}
	}
	if timestamp == "" || v1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(d.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(v1))
}

// ProcessWebhook normalizes a Stripe event. Only explicit failure event
// types map to failed; anything unrecognized stays pending so success is
// never over-reported.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	object := map[string]any{}
	if data, ok := payload["data"].(map[string]any); ok {
		if inner, ok := data["object"].(map[string]any); ok {
			object = inner
		}
	}

	var status gateway.Status
	switch stringField(payload, "type") {
	case "checkout.session.completed", "payment_intent.succeeded":
		status = gateway.StatusSuccess
	case "payment_intent.payment_failed", "checkout.session.expired":
		status = gateway.StatusFailed
	default: // payment_intent.processing and anything unmapped
		status = gateway.StatusPending
	}

	amountRaw := object["amount_total"]
	if amountRaw == nil {
		amountRaw = object["amount"]
	}
	currency := currencyFromAny(object["currency"])
	amount, err := gateway.AmountFromMinor(amountRaw, currency)
	if err != nil {
		return nil, fmt.Errorf("stripe webhook: %w", err)
	}

	reference := stringField(object, "client_reference_id")
	if reference == "" {
		reference = stringField(object, "id")
	}
	if reference == "" {
		reference = "unknown"
	}

	now := time.Now().UTC()
	var paidAt *time.Time
	if status == gateway.StatusSuccess {
		paidAt = &now
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		PaidAt:    paidAt,
		Metadata:  payload,
	}, nil
}

func (d *Driver) postForm(ctx context.Context, op, path string, form url.Values, idempotencyKey string) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.SecretKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return d.send(httpReq, op)
}

func (d *Driver) get(ctx context.Context, op, path string) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.SecretKey)
	return d.send(httpReq, op)
}

func (d *Driver) send(httpReq *http.Request, op string) (map[string]any, error) {
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, gateway.NewError(d.Driver(), op, resp.StatusCode, respBody)
	}

	var data map[string]any
	dec := json.NewDecoder(strings.NewReader(string(respBody)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, gateway.WrapError(d.Driver(), op, fmt.Errorf("decode response: %w", err))
	}
	return data, nil
}

// currencyFromAny upper-cases Stripe's lower-case currency codes.
func currencyFromAny(v any) money.Currency {
	if s, ok := v.(string); ok && s != "" {
		return money.Currency(strings.ToUpper(s))
	}
	return money.USD
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
