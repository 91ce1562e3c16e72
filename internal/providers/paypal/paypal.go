// Package paypal implements the PayPal checkout-order driver.
//
// API access uses a client-credentials OAuth token cached until shortly
// before expiry. Verify captures the order rather than reading it, which
// matches the redirect-then-capture flow. Webhook signatures are not
// computed locally; the transmission headers are sent back to PayPal's
// verify-webhook-signature endpoint and any transport failure rejects
// the event.
package paypal

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Base URLs for sandbox and live mode.
const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// Config holds PayPal credentials.
type Config struct {
	ClientID     string        `envconfig:"PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"PAYPAL_CLIENT_SECRET"`
	WebhookID    string        `envconfig:"PAYPAL_WEBHOOK_ID"`
	Sandbox      bool          `envconfig:"PAYPAL_SANDBOX" default:"true"`
	BaseURL      string        `envconfig:"PAYPAL_BASE_URL"`
	Timeout      time.Duration `envconfig:"PAYPAL_TIMEOUT" default:"30s"`
}

// webhookHeaders is the transmission header set the dispatch layer
// forwards as the signature parameter, serialized to JSON.
type webhookHeaders struct {
	TransmissionID   string `json:"transmission_id"`
	TransmissionTime string `json:"transmission_time"`
	CertURL          string `json:"cert_url"`
	AuthAlgo         string `json:"auth_algo"`
	TransmissionSig  string `json:"transmission_sig"`
}

// Driver implements gateway.Gateway for PayPal.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a PayPal driver.
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
func (d *Driver) Driver() string { return gateway.ProviderPayPal }

// accessToken returns a cached OAuth token, fetching a fresh one when
// the cache is empty or expired.
func (d *Driver) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token != "" && time.Now().Before(d.tokenExpiry) {
		return d.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", gateway.WrapError(d.Driver(), "token", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(d.cfg.ClientID, d.cfg.ClientSecret)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", gateway.WrapError(d.Driver(), "token", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", gateway.NewError(d.Driver(), "token", resp.StatusCode, respBody)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return "", gateway.WrapError(d.Driver(), "token", fmt.Errorf("decode token response: %w", err))
	}

	d.token = tokenResp.AccessToken
	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	// Refresh a minute early so in-flight calls never race the expiry.
	d.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)

	return d.token, nil
}

// Initialize creates a checkout order and returns the approval link.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": req.Reference,
				"amount": map[string]any{
					"currency_code": string(req.Amount.Currency),
					"value":         req.Amount.MajorString(),
				},
			},
		},
		"application_context": map[string]any{
			"return_url": req.CallbackURL,
			"cancel_url": req.CallbackURL + "?status=cancelled",
		},
	}

	headers := map[string]string{"PayPal-Request-Id": req.Reference}
	data, err := d.request(ctx, "initialize", http.MethodPost, "/v2/checkout/orders", payload, headers)
	if err != nil {
		return nil, err
	}

	approveURL := ""
	if links, ok := data["links"].([]any); ok {
		for _, l := range links {
			link, ok := l.(map[string]any)
			if !ok {
				continue
			}
			if stringField(link, "rel") == "approve" {
				approveURL = stringField(link, "href")
				break
			}
		}
	}

	orderID := stringField(data, "id")
	d.logger.Info("paypal order created", "reference", req.Reference, "order_id", orderID)

	return &gateway.PaymentResult{
		Reference:         orderID,
		Status:            gateway.StatusPending,
		AuthorizationURL:  approveURL,
		ProviderReference: orderID,
		Metadata:          data,
	}, nil
}

// Verify captures the order by its id; the capture response reports the
// settled state and amount.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.request(ctx, "verify", http.MethodPost, "/v2/checkout/orders/"+reference+"/capture", map[string]any{}, nil)
	if err != nil {
		return nil, err
	}

	amount := money.Zero(money.USD)
	var paidAt *time.Time
	if units, ok := data["purchase_units"].([]any); ok && len(units) > 0 {
		if unit, ok := units[0].(map[string]any); ok {
			if payments, ok := unit["payments"].(map[string]any); ok {
				if captures, ok := payments["captures"].([]any); ok && len(captures) > 0 {
					if capture, ok := captures[0].(map[string]any); ok {
						if m, ok := capture["amount"].(map[string]any); ok {
							currency := gateway.CurrencyFromAny(m["currency_code"], money.USD)
							amount, err = gateway.AmountFromMajor(m["value"], currency)
							if err != nil {
								return nil, gateway.WrapError(d.Driver(), "verify", err)
							}
						}
						paidAt = gateway.ParseTime(capture["create_time"])
					}
				}
			}
		}
	}

	return &gateway.VerificationResult{
		Reference: stringField(data, "id"),
		Status:    normalizeStatus(stringField(data, "status")),
		Amount:    amount,
		PaidAt:    paidAt,
		Metadata:  data,
	}, nil
}

// ValidateWebhook verifies the event against PayPal's signature
// verification endpoint. The signature parameter carries the original
// transmission headers serialized to JSON; any missing header or
// transport failure rejects the event.
func (d *Driver) ValidateWebhook(ctx context.Context, payload []byte, signature string) bool {
	if d.cfg.WebhookID == "" {
		return false
	}

	var headers webhookHeaders
	if err := json.Unmarshal([]byte(signature), &headers); err != nil {
		return false
	}
	if headers.TransmissionID == "" || headers.TransmissionTime == "" ||
		headers.CertURL == "" || headers.AuthAlgo == "" || headers.TransmissionSig == "" {
		return false
	}

	var event map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&event); err != nil {
		return false
	}

	verifyPayload := map[string]any{
		"transmission_id":   headers.TransmissionID,
		"transmission_time": headers.TransmissionTime,
		"cert_url":          headers.CertURL,
		"auth_algo":         headers.AuthAlgo,
		"transmission_sig":  headers.TransmissionSig,
		"webhook_id":        d.cfg.WebhookID,
		"webhook_event":     event,
	}

	data, err := d.request(ctx, "verify-webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyPayload, nil)
	if err != nil {
		d.logger.Warn("paypal webhook verification call failed", "error", err)
		return false
	}

	status := stringField(data, "verification_status")
	return subtle.ConstantTimeCompare([]byte(status), []byte("SUCCESS")) == 1
}

// ProcessWebhook normalizes a capture event.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	var status gateway.Status
	switch stringField(payload, "event_type") {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		status = gateway.StatusSuccess
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.REFUNDED":
		status = gateway.StatusFailed
	default:
		status = gateway.StatusPending
	}

	resource, _ := payload["resource"].(map[string]any)
	if resource == nil {
		resource = map[string]any{}
	}

	amount := money.Zero(money.USD)
	if m, ok := resource["amount"].(map[string]any); ok {
		currency := gateway.CurrencyFromAny(m["currency_code"], money.USD)
		var err error
		amount, err = gateway.AmountFromMajor(m["value"], currency)
		if err != nil {
			return nil, fmt.Errorf("paypal webhook: %w", err)
		}
	}

	reference := stringField(resource, "id")
	if reference == "" {
		reference = "unknown"
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		PaidAt:    gateway.ParseTime(resource["create_time"]),
		Metadata:  payload,
	}, nil
}

func (d *Driver) request(ctx context.Context, op, method, path string, payload map[string]any, headers map[string]string) (map[string]any, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}

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
	httpReq.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		// Token may have been revoked server-side; drop the cache so the
		// next call fetches a fresh one.
		d.mu.Lock()
		d.token = ""
		d.mu.Unlock()
	}
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

// normalizeStatus maps PayPal order statuses onto the canonical set.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "COMPLETED":
		return gateway.StatusSuccess
	case "FAILED", "VOIDED":
		return gateway.StatusFailed
	default: // CREATED, SAVED, APPROVED, PAYER_ACTION_REQUIRED
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
