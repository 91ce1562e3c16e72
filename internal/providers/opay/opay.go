// Package opay implements the OPay cashier driver.
//
// Initialization authenticates with the public key plus a MerchantId
// header; status queries are signed with HMAC-SHA512 over the key-sorted
// JSON request body. Webhooks are authenticated with HMAC-SHA512 over
// the raw body keyed with the secret key.
package opay

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
	SandboxBaseURL = "https://cashierapi.sandbox.opaycheckout.com/api/v1/international"
	LiveBaseURL    = "https://cashierapi.opaycheckout.com/api/v1/international"
)

// Config holds OPay credentials.
type Config struct {
	PublicKey  string        `envconfig:"OPAY_PUBLIC_KEY"`
	SecretKey  string        `envconfig:"OPAY_SECRET_KEY"`
	MerchantID string        `envconfig:"OPAY_MERCHANT_ID"`
	Sandbox    bool          `envconfig:"OPAY_SANDBOX" default:"true"`
	BaseURL    string        `envconfig:"OPAY_BASE_URL"`
	Timeout    time.Duration `envconfig:"OPAY_TIMEOUT" default:"30s"`
}

// Driver implements gateway.Gateway for OPay.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates an OPay driver.
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
func (d *Driver) Driver() string { return gateway.ProviderOPay }

// Initialize opens an OPay cashier session.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	payload := map[string]any{
		"reference":    req.Reference,
		"mchShortName": req.MetaString("name", "Merchant"),
		"productName":  "Payment",
		"productDesc":  req.MetaString("description", "Service Payment"),
		"userPhone":    req.MetaString("phone", "+2348000000000"),
		"userEmail":    req.Email,
		"amount":       fmt.Sprintf("%d", req.Amount.AmountMinor),
		"currency":     string(req.Amount.Currency),
		"returnUrl":    req.CallbackURL,
		"payType":      "BalancePayment,BonusPayment,CardPayment",
		"expireAt":     "10", // minutes
	}

	headers := map[string]string{
		"MerchantId":    d.cfg.MerchantID,
		"Authorization": "Bearer " + d.cfg.PublicKey,
	}
	data, err := d.post(ctx, "initialize", "/cashier/initialize", payload, headers)
	if err != nil {
		return nil, err
	}

	d.logger.Info("opay cashier session created", "reference", req.Reference)

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusPending,
		AuthorizationURL:  stringField(data, "cashierUrl"),
		ProviderReference: stringField(data, "orderNo"),
		Metadata:          data,
	}, nil
}

// Verify polls the cashier status endpoint. The request body is signed
// with HMAC-SHA512 over its key-sorted JSON serialization.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	payload := map[string]any{"reference": reference}

	// json.Marshal of a map emits keys in sorted order, which is the
	// serialization OPay signs.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}
	mac := hmac.New(sha512.New, []byte(d.cfg.SecretKey))
	mac.Write(raw)

	headers := map[string]string{
		"MerchantId": d.cfg.MerchantID,
		"Signature":  hex.EncodeToString(mac.Sum(nil)),
	}
	data, err := d.post(ctx, "verify", "/cashier/status", payload, headers)
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
		Metadata:  data,
	}, nil
}

// ValidateWebhook checks an HMAC-SHA512 signature over the raw body.
func (d *Driver) ValidateWebhook(_ context.Context, payload []byte, signature string) bool {
	if d.cfg.SecretKey == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(d.cfg.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ProcessWebhook normalizes a trade-status notification.
func (d *Driver) ProcessWebhook(_ context.Context, payload map[string]any) (*gateway.VerificationResult, error) {
	var status gateway.Status
	switch stringField(payload, "tradeStatus") {
	case "topup_success", "success":
		status = gateway.StatusSuccess
	case "close", "fail":
		status = gateway.StatusFailed
	default:
		status = gateway.StatusPending
	}

	currency := gateway.CurrencyFromAny(payload["currency"], money.NGN)
	amount, err := gateway.AmountFromMinor(payload["amount"], currency)
	if err != nil {
		return nil, fmt.Errorf("opay webhook: %w", err)
	}

	reference := stringField(payload, "outTradeNo")
	if reference == "" {
		reference = "unknown"
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		Metadata:  payload,
	}, nil
}

func (d *Driver) post(ctx context.Context, op, path string, payload map[string]any, headers map[string]string) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

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
		Code    string         `json:"code"`
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

// normalizeStatus maps OPay order statuses onto the canonical set.
func normalizeStatus(status string) gateway.Status {
	switch status {
	case "SUCCESS":
		return gateway.StatusSuccess
	case "FAIL", "CLOSE", "CANCEL":
		return gateway.StatusFailed
	default: // INITIAL, PENDING
		return gateway.StatusPending
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
