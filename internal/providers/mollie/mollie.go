// Package mollie implements the Mollie payments driver.
//
// Mollie webhooks carry only a payment id and no signature; authenticity
// comes from fetching the payment back over the authenticated API, so
// ProcessWebhook is the one webhook path allowed to touch the network.
package mollie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Config holds Mollie credentials.
type Config struct {
	APIKey  string        `envconfig:"MOLLIE_API_KEY"`
	BaseURL string        `envconfig:"MOLLIE_BASE_URL" default:"https://api.mollie.com/v2"`
	Timeout time.Duration `envconfig:"MOLLIE_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for Mollie.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Mollie driver.
func New(cfg Config, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Driver returns the provider identifier.
func (d *Driver) Driver() string { return gateway.ProviderMollie }

// Initialize creates a payment and returns the hosted checkout link.
// Mollie assigns the payment id that becomes the engine reference; the
// requested reference rides along in the payment's metadata for audit.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	metadata := map[string]any{"reference": req.Reference}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	payload := map[string]any{
		"amount": map[string]any{
			"currency": string(req.Amount.Currency),
			"value":    req.Amount.MajorString(),
		},
		"description": req.MetaString("description", "Payment for Order "+req.Reference),
		"redirectUrl": req.CallbackURL,
		"metadata":    metadata,
	}

	data, err := d.request(ctx, "initialize", http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, err
	}

	checkoutURL := ""
	if links, ok := data["_links"].(map[string]any); ok {
		if checkout, ok := links["checkout"].(map[string]any); ok {
			checkoutURL = stringField(checkout, "href")
		}
	}

	paymentID := stringField(data, "id")
	d.logger.Info("mollie payment created", "reference", req.Reference, "payment_id", paymentID)

	return &gateway.PaymentResult{
		Reference:         paymentID,
		Status:            gateway.StatusPending,
		AuthorizationURL:  checkoutURL,
		ProviderReference: paymentID,
		Metadata:          data,
	}, nil
}

// Verify polls a payment by its Mollie id.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.request(ctx, "verify", http.MethodGet, "/payments/"+reference, nil)
	if err != nil {
		return nil, err
	}
	return d.normalize(data)
}

// ValidateWebhook always accepts; Mollie sends no signature. The payload
// is only a payment id and ProcessWebhook authenticates by fetching the
// payment back from the API.
func (d *Driver) ValidateWebhook(_ context.Context, _ []byte, _ string) bool {
	return true
}

// ProcessWebhook fetches the referenced payment and normalizes it. A
// payload without an id is rejected.
func (d *Driver) ProcessWebhook(ctx context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	id := stringField(payload, "id")
	if id == "" {
		return nil, fmt.Errorf("mollie webhook: missing payment id")
	}
	return d.Verify(ctx, id)
}

func (d *Driver) normalize(data map[string]any) (*gateway.VerificationResult, error) {
	amount := money.Zero(money.EUR)
	if m, ok := data["amount"].(map[string]any); ok {
		currency := gateway.CurrencyFromAny(m["currency"], money.EUR)
		var err error
		amount, err = gateway.AmountFromMajor(m["value"], currency)
		if err != nil {
			return nil, gateway.WrapError(d.Driver(), "normalize", err)
		}
	}

	return &gateway.VerificationResult{
		Reference: stringField(data, "id"),
		Status:    normalizeStatus(stringField(data, "status")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["paidAt"]),
		Metadata:  data,
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
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

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

// normalizeStatus maps Mollie payment statuses onto the canonical set.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "paid":
		return gateway.StatusSuccess
	case "canceled", "failed", "expired":
		return gateway.StatusFailed
	default: // open, pending, authorized
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
