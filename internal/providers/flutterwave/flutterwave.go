// Package flutterwave implements the Flutterwave card-processor driver.
//
// Amounts cross the wire in major units. Webhooks carry a static
// verif-hash header that must equal the secret hash configured in the
// Flutterwave dashboard; there is no per-payload signature.
package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Config holds Flutterwave credentials.
type Config struct {
	SecretKey  string        `envconfig:"FLW_SECRET_KEY"`
	SecretHash string        `envconfig:"FLW_SECRET_HASH"`
	BaseURL    string        `envconfig:"FLW_BASE_URL" default:"https://api.flutterwave.com/v3"`
	Timeout    time.Duration `envconfig:"FLW_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for Flutterwave.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Flutterwave driver.
func New(cfg Config, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Driver returns the provider identifier.
func (d *Driver) Driver() string { return gateway.ProviderFlutterwave }

// Initialize opens a hosted payment page.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"tx_ref":       req.Reference,
		"amount":       req.Amount.MajorString(),
		"currency":     string(req.Amount.Currency),
		"redirect_url": req.CallbackURL,
		"customer": map[string]any{
			"email": req.Email,
		},
		"meta":            req.Metadata,
		"payment_options": "card",
	}

	data, err := d.request(ctx, "initialize", http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, err
	}

	d.logger.Info("flutterwave payment initialized", "tx_ref", req.Reference)

	providerRef := ""
	if id, ok := data["id"]; ok {
		providerRef = fmt.Sprint(id)
	}

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(data, "link"),
		ProviderReference: providerRef,
		Metadata:          data,
	}, nil
}

// Verify polls a transaction by its tx_ref.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.request(ctx, "verify", http.MethodGet, "/transactions/verify_by_reference?tx_ref="+reference, nil)
	if err != nil {
		return nil, err
	}
	return d.normalize(data)
}

// ValidateWebhook compares the verif-hash header against the configured
// secret hash. Fails closed when the hash is unconfigured.
func (d *Driver) ValidateWebhook(_ context.Context, _ []byte, signature string) bool {
	if d.cfg.SecretHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d.cfg.SecretHash), []byte(signature)) == 1
}

// ProcessWebhook normalizes a charge event payload. Flutterwave sometimes
// wraps the transaction in a data object and sometimes does not.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	data := payload
	if inner, ok := payload["data"].(map[string]any); ok {
		data = inner
	}
	return d.normalize(data)
}

func (d *Driver) normalize(data map[string]any) (*gateway.VerificationResult, error) {
	currency := gateway.CurrencyFromAny(data["currency"], money.NGN)
	amount, err := gateway.AmountFromMajor(data["amount"], currency)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "normalize", err)
	}

	return &gateway.VerificationResult{
		Reference: stringField(data, "tx_ref"),
		Status:    normalizeStatus(stringField(data, "status")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["created_at"]),
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
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.SecretKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, gateway.NewError(d.Driver(), op, resp.StatusCode, respBody)
	}

	var envelope struct {
		Status  string         `json:"status"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, gateway.WrapError(d.Driver(), op, fmt.Errorf("decode response: %w", err))
	}

	return envelope.Data, nil
}

// normalizeStatus maps Flutterwave statuses onto the canonical set.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "successful":
		return gateway.StatusSuccess
	case "failed":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
