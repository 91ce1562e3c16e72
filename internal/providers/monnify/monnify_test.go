package monnify

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"paygate/internal/gateway"
)

func testDriver(t *testing.T, handler http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:       "MK_TEST",
		SecretKey:    "SK_TEST",
		ContractCode: "123456",
		BaseURL:      srv.URL,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func loginThen(t *testing.T, logins *int32, next http.HandlerFunc) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			atomic.AddInt32(logins, 1)
			user, pass, ok := r.BasicAuth()
			if !ok || user != "MK_TEST" || pass != "SK_TEST" {
				t.Errorf("basic auth = %q/%q", user, pass)
			}
			fmt.Fprint(w, `{"requestSuccessful":true,"responseBody":{"accessToken":"tok_1","expiresIn":3600}}`)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok_1" {
			t.Errorf("authorization = %q", got)
		}
		next(w, r)
	})
}

func TestVerify(t *testing.T) {
	var logins int32
	d := testDriver(t, loginThen(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/merchant/transactions/query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("paymentReference"); got != "tx_1" {
			t.Errorf("paymentReference = %q", got)
		}
		fmt.Fprint(w, `{"requestSuccessful":true,"responseBody":{"paymentReference":"tx_1","paymentStatus":"PAID","amountPaid":5000,"currencyCode":"NGN","completedOn":"2026-08-01T10:30:00"}}`)
	}))

	vr, err := d.Verify(context.Background(), "tx_1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if vr.Status != gateway.StatusSuccess {
		t.Errorf("status = %s, want success", vr.Status)
	}
	if vr.Amount.AmountMinor != 500000 {
		t.Errorf("amount minor = %d, want 500000", vr.Amount.AmountMinor)
	}
	if vr.Reference != "tx_1" {
		t.Errorf("reference = %q", vr.Reference)
	}
}

func TestTokenIsCached(t *testing.T) {
	var logins int32
	d := testDriver(t, loginThen(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"requestSuccessful":true,"responseBody":{"paymentReference":"tx_1","paymentStatus":"PENDING","amountPaid":0,"currencyCode":"NGN"}}`)
	}))

	for i := 0; i < 3; i++ {
		if _, err := d.Verify(context.Background(), "tx_1"); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Errorf("logins = %d, want 1 cached token", got)
	}
}

func TestValidateWebhook(t *testing.T) {
	payload := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION"}`)

	sign := func(secret string) string {
		h := sha512.New()
		h.Write([]byte(secret))
		h.Write([]byte("|"))
		h.Write(payload)
		return hex.EncodeToString(h.Sum(nil))
	}

	d := New(Config{SecretKey: "SK_TEST"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("valid digest", func(t *testing.T) {
		if !d.ValidateWebhook(context.Background(), payload, sign("SK_TEST")) {
			t.Error("expected valid digest to pass")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if d.ValidateWebhook(context.Background(), payload, sign("SK_OTHER")) {
			t.Error("expected mismatched digest to fail")
		}
	})

	t.Run("empty secret fails closed", func(t *testing.T) {
		bare := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if bare.ValidateWebhook(context.Background(), payload, sign("")) {
			t.Error("expected empty secret to fail closed")
		}
	})
}

func TestProcessWebhook(t *testing.T) {
	d := New(Config{SecretKey: "SK_TEST"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		rawStatus string
		want      gateway.Status
	}{
		{rawStatus: "PAID", want: gateway.StatusSuccess},
		{rawStatus: "OVERPAID", want: gateway.StatusSuccess},
		{rawStatus: "FAILED", want: gateway.StatusFailed},
		{rawStatus: "EXPIRED", want: gateway.StatusFailed},
		{rawStatus: "PARTIALLY_PAID", want: gateway.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.rawStatus, func(t *testing.T) {
			payload := map[string]any{
				"eventData": map[string]any{
					"paymentReference": "tx_1",
					"paymentStatus":    tt.rawStatus,
					"amountPaid":       "5000.00",
					"currency":         "NGN",
				},
			}
			vr, err := d.ProcessWebhook(context.Background(), payload)
			if err != nil {
				t.Fatalf("process webhook: %v", err)
			}
			if vr.Status != tt.want {
				t.Errorf("status = %s, want %s", vr.Status, tt.want)
			}
			if vr.Reference != "tx_1" {
				t.Errorf("reference = %q", vr.Reference)
			}
		})
	}
}
