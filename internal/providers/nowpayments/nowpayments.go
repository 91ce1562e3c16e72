// Package nowpayments implements the NOWPayments crypto driver.
//
// API calls authenticate with an x-api-key header. IPN callbacks are
// signed with HMAC-SHA512 over the key-sorted JSON serialization of the
// payload, keyed with the IPN secret (x-nowpayments-sig header).
package nowpayments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Base URLs for sandbox and live mode.
const (
	SandboxBaseURL = "https://api-sandbox.nowpayments.io/v1"
	LiveBaseURL    = "https://api.nowpayments.io/v1"
)

// Config holds NOWPayments credentials.
type Config struct {
	APIKey    string        `envconfig:"NOWPAYMENTS_API_KEY"`
	IPNSecret string        `envconfig:"NOWPAYMENTS_IPN_SECRET"`
	Sandbox   bool          `envconfig:"NOWPAYMENTS_SANDBOX" default:"true"`
	BaseURL   string        `envconfig:"NOWPAYMENTS_BASE_URL"`
	Timeout   time.Duration `envconfig:"NOWPAYMENTS_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for NOWPayments.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a NOWPayments driver.
func New(cfg Config, logger *slog.Logger) *Driver {
	if cfg.BaseURL == "" {
		if cfg.Sandbox {
			cfg.BaseURL = SandboxBaseURL
		} else {
			cfg.BaseURL = LiveBaseURL
		}
	}
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Driver returns the provider identifier.
func (d *Driver) Driver() string { return gateway.ProviderNowPayments }

// Initialize creates an invoice and returns its hosted URL. The price
// is quoted in fiat; the payer chooses a crypto asset on the invoice
// page.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"price_amount":      req.Amount.MajorString(),
		"price_currency":    string(req.Amount.Currency),
		"order_id":          req.Reference,
		"order_description": req.MetaString("description", "Payment for Order "+req.Reference),
		"success_url":       req.CallbackURL,
		"cancel_url":        req.CallbackURL + "?status=cancelled",
	}

	data, err := d.request(ctx, "initialize", http.MethodPost, "/invoice", payload)
	if err != nil {
		return nil, err
	}

	providerRef := ""
	if id, ok := data["id"]; ok {
		providerRef = fmt.Sprint(id)
	}

	d.logger.Info("nowpayments invoice created", "reference", req.Reference, "invoice_id", providerRef)

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(data, "invoice_url"),
		ProviderReference: providerRef,
		VerifyReference:   providerRef,
		Metadata:          data,
	}, nil
}

// Verify polls a payment by its NOWPayments payment id.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.request(ctx, "verify", http.MethodGet, "/payment/"+reference, nil)
	if err != nil {
		return nil, err
	}

	currency := gateway.CurrencyFromAny(data["price_currency"], money.USD)
	amount, err := gateway.AmountFromMajor(data["price_amount"], currency)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}

	ref := stringField(data, "order_id")
	if ref == "" {
		ref = reference
	}

	return &gateway.VerificationResult{
		Reference: ref,
		Status:    normalizeStatus(stringField(data, "payment_status")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["updated_at"]),
		Metadata:  data,
	}, nil
}

// ValidateWebhook checks the x-nowpayments-sig header: HMAC-SHA512 over
// the payload re-serialized with sorted keys, which is how NOWPayments
// computes it. Re-serialization assumes the sender's JSON matches
// encoding/json's output for the same fields; fails closed without the
// IPN secret.
func (d *Driver) ValidateWebhook(_ context.Context, payload []byte, signature string) bool {
	if d.cfg.IPNSecret == "" {
		return false
	}

	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return false
	}

	// json.Marshal of a map emits keys in sorted order.
	sorted, err := json.Marshal(body)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(d.cfg.IPNSecret))
	mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ProcessWebhook normalizes an IPN callback.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	currency := gateway.CurrencyFromAny(payload["price_currency"], money.USD)
	amount, err := gateway.AmountFromMajor(payload["price_amount"], currency)
	if err != nil {
		return nil, fmt.Errorf("nowpayments webhook: %w", err)
	}

	reference := stringField(payload, "order_id")
	if reference == "" {
		reference = "unknown"
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    normalizeStatus(stringField(payload, "payment_status")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(payload["updated_at"]),
		Metadata:  payload,
	}, nil
}

func (d *Driver) request(ctx context.Context, op, method, path string, payload map[string]any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, gateway.WrapError(d.Driver(), op, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, d.cfg.BaseURL+path, body)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("x-api-key", d.cfg.APIKey)

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
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, gateway.WrapError(d.Driver(), op, fmt.Errorf("decode response: %w", err))
	}
	return data, nil
}

// normalizeStatus maps NOWPayments payment statuses onto the canonical
// set.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "finished":
		return gateway.StatusSuccess
	case "failed", "refunded", "expired":
		return gateway.StatusFailed
	default: // waiting, confirming, confirmed, sending, partially_paid
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
