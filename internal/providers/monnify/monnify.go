// Package monnify implements the Monnify card-processor driver.
//
// Every API call is preceded by a basic-auth token login; the bearer
// token is cached until shortly before its reported expiry. Webhooks are
// authenticated with a SHA-512 digest of "secret|body" carried in the
// monnify-signature header.
package monnify

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Base URLs for sandbox and live mode.
const (
	SandboxBaseURL = "https://sandbox.monnify.com/api/v1"
	LiveBaseURL    = "https://api.monnify.com/api/v1"
)

// Config holds Monnify credentials.
type Config struct {
	APIKey       string        `envconfig:"MONNIFY_API_KEY"`
	SecretKey    string        `envconfig:"MONNIFY_SECRET_KEY"`
	ContractCode string        `envconfig:"MONNIFY_CONTRACT_CODE"`
	Sandbox      bool          `envconfig:"MONNIFY_SANDBOX" default:"true"`
	BaseURL      string        `envconfig:"MONNIFY_BASE_URL"`
	Timeout      time.Duration `envconfig:"MONNIFY_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for Monnify.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a Monnify driver.
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
func (d *Driver) Driver() string { return gateway.ProviderMonnify }

// accessToken returns a cached bearer token, logging in when the cache
// is empty or expired.
func (d *Driver) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token != "" && time.Now().Before(d.tokenExpiry) {
		return d.token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/auth/login", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", gateway.WrapError(d.Driver(), "token", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(d.cfg.APIKey, d.cfg.SecretKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", gateway.WrapError(d.Driver(), "token", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", gateway.NewError(d.Driver(), "token", resp.StatusCode, respBody)
	}

	var envelope struct {
		ResponseBody struct {
			AccessToken string `json:"accessToken"`
			ExpiresIn   int64  `json:"expiresIn"`
		} `json:"responseBody"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return "", gateway.WrapError(d.Driver(), "token", fmt.Errorf("decode token response: %w", err))
	}

	d.token = envelope.ResponseBody.AccessToken
	expiresIn := envelope.ResponseBody.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	// Refresh a minute early so in-flight calls never race the expiry.
	d.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)

	return d.token, nil
}

// Initialize opens a Monnify checkout transaction.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"amount":             req.Amount.MajorString(),
		"customerName":       req.MetaString("name", "Customer"),
		"customerEmail":      req.Email,
		"paymentReference":   req.Reference,
		"paymentDescription": req.MetaString("description", "Payment"),
		"currencyCode":       string(req.Amount.Currency),
		"contractCode":       d.cfg.ContractCode,
		"redirectUrl":        req.CallbackURL,
		"paymentMethods":     []string{"CARD", "ACCOUNT_TRANSFER"},
	}

	data, err := d.request(ctx, "initialize", http.MethodPost, "/merchant/transactions/init-transaction", payload)
	if err != nil {
		return nil, err
	}

	d.logger.Info("monnify transaction initialized", "payment_reference", req.Reference)

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(data, "checkoutUrl"),
		ProviderReference: stringField(data, "transactionReference"),
		Metadata:          data,
	}, nil
}

// Verify polls a transaction by the merchant payment reference, which
// is the same key Monnify's webhooks report.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	data, err := d.request(ctx, "verify", http.MethodGet, "/merchant/transactions/query?paymentReference="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	currency := gateway.CurrencyFromAny(data["currencyCode"], money.NGN)
	amount, err := gateway.AmountFromMajor(data["amountPaid"], currency)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}

	return &gateway.VerificationResult{
		Reference: stringField(data, "paymentReference"),
		Status:    normalizeStatus(stringField(data, "paymentStatus")),
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["completedOn"]),
		Metadata:  data,
	}, nil
}

// ValidateWebhook checks the monnify-signature header: a SHA-512 digest
// of the secret key joined to the raw body with a pipe.
func (d *Driver) ValidateWebhook(_ context.Context, payload []byte, signature string) bool {
	if d.cfg.SecretKey == "" {
		return false
	}
	h := sha512.New()
	h.Write([]byte(d.cfg.SecretKey))
	h.Write([]byte("|"))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ProcessWebhook normalizes a transaction-completion event.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	data := payload
	if inner, ok := payload["eventData"].(map[string]any); ok {
		data = inner
	}

	var status gateway.Status
	switch stringField(data, "paymentStatus") {
	case "PAID", "OVERPAID":
		status = gateway.StatusSuccess
	case "FAILED", "EXPIRED":
		status = gateway.StatusFailed
	default:
		status = gateway.StatusPending
	}

	currency := gateway.CurrencyFromAny(data["currency"], money.NGN)
	amount, err := gateway.AmountFromMajor(data["amountPaid"], currency)
	if err != nil {
		return nil, fmt.Errorf("monnify webhook: %w", err)
	}

	reference := stringField(data, "paymentReference")
	if reference == "" {
		reference = "unknown"
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		PaidAt:    gateway.ParseTime(data["paidOn"]),
		Metadata:  data,
	}, nil
}

func (d *Driver) request(ctx context.Context, op, method, path string, payload map[string]any) (map[string]any, error) {
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

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		// Token may have been revoked server-side; drop the cache so the
		// next call logs in again.
		d.mu.Lock()
		d.token = ""
		d.mu.Unlock()
	}
	if resp.StatusCode >= 400 {
		return nil, gateway.NewError(d.Driver(), op, resp.StatusCode, respBody)
	}

	var envelope struct {
		RequestSuccessful bool           `json:"requestSuccessful"`
		ResponseBody      map[string]any `json:"responseBody"`
	}
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, gateway.WrapError(d.Driver(), op, fmt.Errorf("decode response: %w", err))
	}

	return envelope.ResponseBody, nil
}

// normalizeStatus maps Monnify payment statuses onto the canonical set.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "PAID", "OVERPAID":
		return gateway.StatusSuccess
	case "FAILED":
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
