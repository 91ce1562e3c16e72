// Package square implements the Square payment-link driver.
//
// Initialization creates an order-backed payment link; Verify polls the
// order, so the engine reference for Square rows is the Square order id.
// Webhooks are authenticated with HMAC-SHA256 over the notification URL
// concatenated with the raw body, base64-encoded. The notification URL
// must be configured or verification fails closed.
package square

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	SandboxBaseURL = "https://connect.squareupsandbox.com/v2"
	LiveBaseURL    = "https://connect.squareup.com/v2"
)

// Config holds Square credentials.
type Config struct {
	AccessToken  string        `envconfig:"SQUARE_ACCESS_TOKEN"`
	LocationID   string        `envconfig:"SQUARE_LOCATION_ID"`
	SignatureKey string        `envconfig:"SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL   string        `envconfig:"SQUARE_WEBHOOK_URL"`
	Sandbox      bool          `envconfig:"SQUARE_SANDBOX" default:"true"`
	BaseURL      string        `envconfig:"SQUARE_BASE_URL"`
	Timeout      time.Duration `envconfig:"SQUARE_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for Square.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Square driver.
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
func (d *Driver) Driver() string { return gateway.ProviderSquare }

// Initialize creates a payment link backed by a one-item order. The
// returned reference is the order id, which Verify polls.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"idempotency_key": req.Reference,
		"order": map[string]any{
			"location_id": d.cfg.LocationID,
			"line_items": []map[string]any{
				{
					"name":     "Payment for Order " + req.Reference,
					"quantity": "1",
					"base_price_money": map[string]any{
						"amount":   req.Amount.AmountMinor,
						"currency": string(req.Amount.Currency),
					},
				},
			},
		},
		"checkout_options": map[string]any{
			"redirect_url": req.CallbackURL,
		},
		"pre_populated_data": map[string]any{
			"buyer_email": req.Email,
		},
	}

	data, err := d.request(ctx, "initialize", http.MethodPost, "/online-checkout/payment-links", payload)
	if err != nil {
		return nil, err
	}

	link, _ := data["payment_link"].(map[string]any)
	if link == nil {
		return nil, gateway.WrapError(d.Driver(), "initialize", fmt.Errorf("missing payment_link object"))
	}

	reference := stringField(link, "order_id")
	if reference == "" {
		reference = stringField(link, "id")
	}

	d.logger.Info("square payment link created",
		"reference", req.Reference,
		"order_id", reference,
	)

	return &gateway.PaymentResult{
		Reference:         reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(link, "url"),
		ProviderReference: stringField(link, "id"),
		Metadata:          link,
	}, nil
}

// Verify polls an order by its id.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.request(ctx, "verify", http.MethodGet, "/orders/"+reference, nil)
	if err != nil {
		return nil, err
	}

	order, _ := data["order"].(map[string]any)
	if order == nil {
		return nil, gateway.WrapError(d.Driver(), "verify", fmt.Errorf("missing order object"))
	}

	currency := money.USD
	var amountRaw any
	if total, ok := order["total_money"].(map[string]any); ok {
		currency = gateway.CurrencyFromAny(total["currency"], money.USD)
		amountRaw = total["amount"]
	}
	amount, err := gateway.AmountFromMinor(amountRaw, currency)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}

	return &gateway.VerificationResult{
		Reference: stringField(order, "id"),
		Status:    normalizeStatus(stringField(order, "state")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(order["closed_at"]),
		Metadata:  order,
	}, nil
}

// ValidateWebhook checks the x-square-hmacsha256-signature header:
// base64 of HMAC-SHA256 over the notification URL followed by the raw
// body. Fails closed when the signature key or URL is unconfigured.
func (d *Driver) ValidateWebhook(_ context.Context, payload []byte, signature string) bool {
	if d.cfg.SignatureKey == "" || d.cfg.WebhookURL == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(d.cfg.SignatureKey))
	mac.Write([]byte(d.cfg.WebhookURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ProcessWebhook normalizes a payment event.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	payment := map[string]any{}
	if data, ok := payload["data"].(map[string]any); ok {
		if object, ok := data["object"].(map[string]any); ok {
			if inner, ok := object["payment"].(map[string]any); ok {
				payment = inner
			}
		}
	}

	var status gateway.Status
	switch stringField(payment, "status") {
	case "COMPLETED", "APPROVED":
		status = gateway.StatusSuccess
	case "CANCELED", "FAILED":
		status = gateway.StatusFailed
	default:
		status = gateway.StatusPending
	}

	currency := money.USD
	var amountRaw any
	if m, ok := payment["amount_money"].(map[string]any); ok {
		currency = gateway.CurrencyFromAny(m["currency"], money.USD)
		amountRaw = m["amount"]
	}
	amount, err := gateway.AmountFromMinor(amountRaw, currency)
	if err != nil {
		return nil, fmt.Errorf("square webhook: %w", err)
	}

	reference := stringField(payment, "order_id")
	if reference == "" {
		reference = stringField(payment, "id")
	}
	if reference == "" {
		reference = "unknown"
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		PaidAt:    gateway.ParseTime(payment["updated_at"]),
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
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.AccessToken)

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

// normalizeStatus maps Square order states onto the canonical set.
func normalizeStatus(state string) gateway.Status {
	switch state {
	case "COMPLETED":
		return gateway.StatusSuccess
	case "CANCELED":
		return gateway.StatusFailed
	default: // OPEN, DRAFT
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
