package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"paygate/internal/common/money"
)

// Status is the canonical provider-agnostic payment outcome.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled" // reserved for explicit cancellation signals
)

// IsTerminal reports whether the status is a final outcome.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// PaymentRequest is the canonical input to a driver's Initialize.
type PaymentRequest struct {
	Amount      money.Money    `json:"amount" validate:"required"`
	Email       string         `json:"email" validate:"required,email"`
	Reference   string         `json:"reference,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty" validate:"omitempty,url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MetaString returns a string metadata value, or fallback when absent.
func (r *PaymentRequest) MetaString(key, fallback string) string {
	if v, ok := r.Metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// PaymentResult is the canonical output of a driver's Initialize.
// Immutable once constructed; drivers build a new value per call.
//
// Reference is the engine reference: the key the provider's webhooks
// report back, which may be a provider-assigned id rather than the
// requested reference. VerifyReference, when set, is a distinct key the
// driver's Verify expects (Stripe polls by session id, NowPayments by
// payment id); empty means Verify takes the Reference.
type PaymentResult struct {
	Reference         string         `json:"reference"`
	Status            Status         `json:"status"`
	AuthorizationURL  string         `json:"authorization_url,omitempty"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	VerifyReference   string         `json:"verify_reference,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// VerificationResult is the canonical shape both Verify (sync poll) and
// ProcessWebhook (async push) resolve to. Convergence of these two paths
// onto this one shape is the engine's central invariant.
type VerificationResult struct {
	Reference string         `json:"reference"`
	Status    Status         `json:"status"`
	Amount    money.Money    `json:"amount"`
	PaidAt    *time.Time     `json:"paid_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsSuccessful reports whether the verification resolved to success.
func (v *VerificationResult) IsSuccessful() bool {
	return v.Status == StatusSuccess
}

// AmountFromMinor coerces a decoded JSON value holding a minor-unit
// amount (json.Number, float64, string, or integer) into Money.
func AmountFromMinor(v any, currency money.Currency) (money.Money, error) {
	switch n := v.(type) {
	case nil:
		return money.Zero(currency), nil
	case json.Number:
		minor, err := n.Int64()
		if err != nil {
			return money.Money{}, fmt.Errorf("minor amount %q: %w", n.String(), err)
		}
		return money.New(minor, currency), nil
	case float64:
		return money.New(int64(n), currency), nil
	case int64:
		return money.New(n, currency), nil
	case int:
		return money.New(int64(n), currency), nil
	case string:
		minor, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return money.Money{}, fmt.Errorf("minor amount %q: %w", n, err)
		}
		return money.New(minor, currency), nil
	default:
		return money.Money{}, fmt.Errorf("minor amount: unsupported type %T", v)
	}
}

// AmountFromMajor coerces a decoded JSON value holding a major-unit
// amount into Money. Numbers are routed through their decimal string
// form so no float arithmetic touches the value.
func AmountFromMajor(v any, currency money.Currency) (money.Money, error) {
	switch n := v.(type) {
	case nil:
		return money.Zero(currency), nil
	case json.Number:
		return money.ParseMajor(n.String(), currency)
	case float64:
		return money.ParseMajor(strconv.FormatFloat(n, 'f', -1, 64), currency)
	case string:
		return money.ParseMajor(n, currency)
	default:
		return money.Money{}, fmt.Errorf("major amount: unsupported type %T", v)
	}
}

// CurrencyFromAny reads a currency code out of a decoded payload value,
// falling back when absent.
func CurrencyFromAny(v any, fallback money.Currency) money.Currency {
	if s, ok := v.(string); ok && s != "" {
		return money.Currency(s)
	}
	return fallback
}

// ParseTime parses a provider timestamp, trying RFC3339 first and then
// the space-separated form several gateways use. Returns nil when the
// value is absent or unparseable.
func ParseTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
