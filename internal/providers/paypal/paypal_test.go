package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

func testDriver(t *testing.T, cfg Config, handler http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.ClientID = "client_test"
	cfg.ClientSecret = "secret_test"
	cfg.BaseURL = srv.URL
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func tokenThen(t *testing.T, tokens *int32, next http.HandlerFunc) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			atomic.AddInt32(tokens, 1)
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client_test" || pass != "secret_test" {
				t.Errorf("basic auth = %q/%q", user, pass)
			}
			fmt.Fprint(w, `{"access_token":"tok_1","expires_in":3600}`)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok_1" {
			t.Errorf("authorization = %q", got)
		}
		next(w, r)
	})
}

func TestInitialize(t *testing.T) {
	var tokens int32
	d := testDriver(t, Config{}, tokenThen(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/checkout/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("PayPal-Request-Id"); got != "tx_1" {
			t.Errorf("request id = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		units, _ := body["purchase_units"].([]any)
		if len(units) != 1 {
			t.Fatalf("purchase_units = %v", body["purchase_units"])
		}
		unit := units[0].(map[string]any)
		amount := unit["amount"].(map[string]any)
		if amount["value"] != "2500.00" {
			t.Errorf("value = %v, want major-unit string", amount["value"])
		}

		fmt.Fprint(w, `{"id":"ORDER-9","status":"CREATED","links":[{"rel":"self","href":"https://api.paypal.com/v2/checkout/orders/ORDER-9"},{"rel":"approve","href":"https://www.paypal.com/checkoutnow?token=ORDER-9"}]}`)
	}))

	result, err := d.Initialize(context.Background(), &gateway.PaymentRequest{
		Amount:      money.New(250000, money.USD),
		Email:       "payer@example.com",
		Reference:   "tx_1",
		CallbackURL: "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if result.Reference != "ORDER-9" {
		t.Errorf("reference = %q, want the order id", result.Reference)
	}
	if result.AuthorizationURL != "https://www.paypal.com/checkoutnow?token=ORDER-9" {
		t.Errorf("authorization url = %q, want the approve link", result.AuthorizationURL)
	}
}

func TestVerifyCapturesTheOrder(t *testing.T) {
	var tokens int32
	d := testDriver(t, Config{}, tokenThen(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/checkout/orders/ORDER-9/capture" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		fmt.Fprint(w, `{"id":"ORDER-9","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-1","amount":{"currency_code":"USD","value":"2500.00"},"create_time":"2026-08-01T10:30:00Z"}]}}]}`)
	}))

	vr, err := d.Verify(context.Background(), "ORDER-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if vr.Status != gateway.StatusSuccess {
		t.Errorf("status = %s, want success", vr.Status)
	}
	if vr.Amount.AmountMinor != 250000 || vr.Amount.Currency != money.USD {
		t.Errorf("amount = %+v", vr.Amount)
	}
	if vr.PaidAt == nil {
		t.Error("expected paid_at from the capture")
	}
}

func TestTokenIsCached(t *testing.T) {
	var tokens int32
	d := testDriver(t, Config{}, tokenThen(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ORDER-9","status":"CREATED"}`)
	}))

	for i := 0; i < 3; i++ {
		if _, err := d.Verify(context.Background(), "ORDER-9"); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&tokens); got != 1 {
		t.Errorf("token fetches = %d, want 1 cached token", got)
	}
}

func TestValidateWebhook(t *testing.T) {
	payload := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	headerJSON := func(sig string) string {
		raw, _ := json.Marshal(map[string]string{
			"transmission_id":   "tid",
			"transmission_time": "2026-08-01T10:30:00Z",
			"cert_url":          "https://api.paypal.com/cert",
			"auth_algo":         "SHA256withRSA",
			"transmission_sig":  sig,
		})
		return string(raw)
	}

	t.Run("delegates to the verification endpoint", func(t *testing.T) {
		var tokens int32
		d := testDriver(t, Config{WebhookID: "WH-1"}, tokenThen(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/notifications/verify-webhook-signature" {
				t.Errorf("path = %s", r.URL.Path)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if body["webhook_id"] != "WH-1" {
				t.Errorf("webhook_id = %v", body["webhook_id"])
			}
			fmt.Fprint(w, `{"verification_status":"SUCCESS"}`)
		}))

		if !d.ValidateWebhook(context.Background(), payload, headerJSON("sig64")) {
			t.Error("expected SUCCESS verification to pass")
		}
	})

	t.Run("verification failure rejects", func(t *testing.T) {
		var tokens int32
		d := testDriver(t, Config{WebhookID: "WH-1"}, tokenThen(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"verification_status":"FAILURE"}`)
		}))

		if d.ValidateWebhook(context.Background(), payload, headerJSON("sig64")) {
			t.Error("expected FAILURE verification to reject")
		}
	})

	t.Run("missing transmission header rejects without a network call", func(t *testing.T) {
		var tokens int32
		d := testDriver(t, Config{WebhookID: "WH-1"}, tokenThen(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected API call")
		}))

		incomplete, _ := json.Marshal(map[string]string{"transmission_id": "tid"})
		if d.ValidateWebhook(context.Background(), payload, string(incomplete)) {
			t.Error("expected incomplete headers to reject")
		}
	})

	t.Run("missing webhook id fails closed", func(t *testing.T) {
		d := New(Config{BaseURL: "http://unreachable.invalid"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if d.ValidateWebhook(context.Background(), payload, headerJSON("sig64")) {
			t.Error("expected missing webhook id to fail closed")
		}
	})
}

func TestProcessWebhook(t *testing.T) {
	d := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	event := func(eventType string) map[string]any {
		return map[string]any{
			"event_type": eventType,
			"resource": map[string]any{
				"id": "ORDER-9",
				"amount": map[string]any{
					"currency_code": "USD",
					"value":         "2500.00",
				},
				"create_time": "2026-08-01T10:30:00Z",
			},
		}
	}

	tests := []struct {
		eventType string
		want      gateway.Status
	}{
		{eventType: "PAYMENT.CAPTURE.COMPLETED", want: gateway.StatusSuccess},
		{eventType: "CHECKOUT.ORDER.COMPLETED", want: gateway.StatusSuccess},
		{eventType: "PAYMENT.CAPTURE.DENIED", want: gateway.StatusFailed},
		{eventType: "PAYMENT.CAPTURE.REFUNDED", want: gateway.StatusFailed},
		{eventType: "CHECKOUT.ORDER.APPROVED", want: gateway.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			vr, err := d.ProcessWebhook(context.Background(), event(tt.eventType))
			if err != nil {
				t.Fatalf("process webhook: %v", err)
			}
			if vr.Status != tt.want {
				t.Errorf("status = %s, want %s", vr.Status, tt.want)
			}
			if vr.Reference != "ORDER-9" {
				t.Errorf("reference = %q", vr.Reference)
			}
			if vr.Amount.AmountMinor != 250000 {
				t.Errorf("amount minor = %d", vr.Amount.AmountMinor)
			}
		})
	}
}
