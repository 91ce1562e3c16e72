// Package paystack implements the Paystack card-processor driver.
//
// Amounts cross the wire in kobo (minor units). The engine reference is
// Paystack's transaction reference, so Verify takes the ledger reference
// directly. Webhooks are authenticated with HMAC-SHA512 over the raw
// request body (x-paystack-signature header).
package paystack

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

	"github.com/oklog/ulid/v2"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Config holds Paystack credentials.
type Config struct {
	SecretKey string        `envconfig:"PAYSTACK_SECRET_KEY"`
	PublicKey string        `envconfig:"PAYSTACK_PUBLIC_KEY"`
	BaseURL   string        `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout   time.Duration `envconfig:"PAYSTACK_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway and gateway.SubscriptionGateway.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Paystack driver.
func New(cfg Config, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Driver returns the provider identifier.
func (d *Driver) Driver() string { return gateway.ProviderPaystack }

// Initialize opens a Paystack transaction and returns the hosted
// checkout URL.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"amount":       req.Amount.AmountMinor, // kobo
		"currency":     string(req.Amount.Currency),
		"email":        req.Email,
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
		"metadata":     req.Metadata,
	}

	data, err := d.postJSON(ctx, "initialize", "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}

	d.logger.Info("paystack transaction initialized",
		"reference", req.Reference,
		"amount", req.Amount.AmountMinor,
	)

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(data, "authorization_url"),
		ProviderReference: stringField(data, "access_code"),
		Metadata:          data,
	}, nil
}

// Verify polls a transaction by its reference.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.getJSON(ctx, "verify", "/transaction/verify/"+reference)
	if err != nil {
		return nil, err
	}

	currency := gateway.CurrencyFromAny(data["currency"], money.NGN)
	amount, err := gateway.AmountFromMinor(data["amount"], currency)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}

	return &gateway.VerificationResult{
		Reference: stringField(data, "reference"),
		Status:    normalizeStatus(stringField(data, "status")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["paid_at"]),
		Metadata:  data,
	}, nil
}

// ValidateWebhook checks the x-paystack-signature header: HMAC-SHA512 of
// the raw body keyed with the secret key.
func (d *Driver) ValidateWebhook(_ context.Context, payload []byte, signature string) bool {
	if d.cfg.SecretKey == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(d.cfg.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ProcessWebhook normalizes a charge event payload.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	data, _ := payload["data"].(map[string]any)
	if data == nil {
		return nil, fmt.Errorf("paystack webhook: missing data object")
	}

	currency := gateway.CurrencyFromAny(data["currency"], money.NGN)
	amount, err := gateway.AmountFromMinor(data["amount"], currency)
	if err != nil {
		return nil, fmt.Errorf("paystack webhook: %w", err)
	}

	return &gateway.VerificationResult{
		Reference: stringField(data, "reference"),
		Status:    normalizeStatus(stringField(data, "status")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["paid_at"]),
		Metadata:  data,
	}, nil
}

// CreatePlan creates a recurring billing plan.
func (d *Driver) CreatePlan(ctx context.Context, plan map[string]any) (map[string]any, error) {
	return d.postJSON(ctx, "create-plan", "/plan", plan)
}

// Subscribe initializes a subscription charge. Paystack treats the first
// subscription payment as a regular transaction.
func (d *Driver) Subscribe(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	if req.Reference == "" {
		req = &gateway.PaymentRequest{
			Amount:      req.Amount,
			Email:       req.Email,
			Reference:   "sub_" + ulid.Make().String(),
			CallbackURL: req.CallbackURL,
			Metadata:    req.Metadata,
		}
	}
	return d.Initialize(ctx, req)
}

// Unsubscribe disables an active subscription.
func (d *Driver) Unsubscribe(ctx context.Context, subscriptionCode string) error {
	_, err := d.postJSON(ctx, "unsubscribe", "/subscription/disable", map[string]any{
		"code":  subscriptionCode,
		"token": d.cfg.SecretKey,
	})
	return err
}

// postJSON posts a JSON payload and returns the response's data object.
func (d *Driver) postJSON(ctx context.Context, op, path string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.SecretKey)

	return d.send(httpReq, op)
}

func (d *Driver) getJSON(ctx context.Context, op, path string) (map[string]any, error) {
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

	var envelope struct {
		Status  bool           `json:"status"`
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

// normalizeStatus maps Paystack's status vocabulary onto the canonical
// set. Unknown values stay pending; success is never assumed.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "success":
		return gateway.StatusSuccess
	case "failed":
		return gateway.StatusFailed
	default: // abandoned, ongoing, queued, ...
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
