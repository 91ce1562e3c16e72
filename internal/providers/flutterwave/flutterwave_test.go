package flutterwave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

func testDriver(t *testing.T, handler http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{SecretKey: "FLWSECK_TEST", SecretHash: "hash_test", BaseURL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInitializeSendsMajorUnits(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["amount"] != "4999.99" {
			t.Errorf("amount = %v, want major-unit string 4999.99", body["amount"])
		}
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/xyz"}}`)
	}))

	result, err := d.Initialize(context.Background(), &gateway.PaymentRequest{
		Amount:    money.New(499999, money.NGN),
		Email:     "payer@example.com",
		Reference: "tx_1",
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if result.AuthorizationURL == "" {
		t.Error("expected a checkout link")
	}
	if result.Status != gateway.StatusPending {
		t.Errorf("status = %s, want pending", result.Status)
	}
}

func TestVerifyConvertsMajorUnits(t *testing.T) {
	tests := []struct {
		name       string
		rawStatus  string
		wantStatus gateway.Status
	}{
		{name: "successful", rawStatus: "successful", wantStatus: gateway.StatusSuccess},
		{name: "failed", rawStatus: "failed", wantStatus: gateway.StatusFailed},
		{name: "unknown stays pending", rawStatus: "pending_validation", wantStatus: gateway.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("tx_ref"); got != "tx_1" {
					t.Errorf("tx_ref = %q", got)
				}
				fmt.Fprintf(w, `{"status":"success","data":{"tx_ref":"tx_1","status":%q,"amount":4999.99,"currency":"NGN"}}`, tt.rawStatus)
			}))

			vr, err := d.Verify(context.Background(), "tx_1")
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if vr.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", vr.Status, tt.wantStatus)
			}
			if vr.Amount.AmountMinor != 499999 {
				t.Errorf("amount minor = %d, want 499999", vr.Amount.AmountMinor)
			}
		})
	}
}

func TestValidateWebhook(t *testing.T) {
	d := New(Config{SecretHash: "hash_test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("matching hash", func(t *testing.T) {
		if !d.ValidateWebhook(context.Background(), nil, "hash_test") {
			t.Error("expected matching hash to pass")
		}
	})

	t.Run("wrong hash", func(t *testing.T) {
		if d.ValidateWebhook(context.Background(), nil, "hash_other") {
			t.Error("expected mismatched hash to fail")
		}
	})

	t.Run("empty config fails closed", func(t *testing.T) {
		bare := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if bare.ValidateWebhook(context.Background(), nil, "") {
			t.Error("expected empty hash to fail closed")
		}
	})
}

func TestProcessWebhook(t *testing.T) {
	d := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("wrapped data object", func(t *testing.T) {
		payload := map[string]any{
			"event": "charge.completed",
			"data": map[string]any{
				"tx_ref":   "tx_1",
				"status":   "successful",
				"amount":   json.Number("4999.99"),
				"currency": "NGN",
			},
		}
		vr, err := d.ProcessWebhook(context.Background(), payload)
		if err != nil {
			t.Fatalf("process webhook: %v", err)
		}
		if vr.Status != gateway.StatusSuccess {
			t.Errorf("status = %s, want success", vr.Status)
		}
		if vr.Amount.AmountMinor != 499999 {
			t.Errorf("amount minor = %d, want 499999", vr.Amount.AmountMinor)
		}
	})

	t.Run("flat payload", func(t *testing.T) {
		payload := map[string]any{
			"tx_ref":   "tx_1",
			"status":   "failed",
			"amount":   json.Number("100"),
			"currency": "NGN",
		}
		vr, err := d.ProcessWebhook(context.Background(), payload)
		if err != nil {
			t.Fatalf("process webhook: %v", err)
		}
		if vr.Status != gateway.StatusFailed {
			t.Errorf("status = %s, want failed", vr.Status)
		}
	})
}
