package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	commonnats "paygate/internal/common/nats"
	"paygate/internal/gateway"
)

func TestReceiveAlwaysAnswers200(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		driver   string
		validate bool
	}{
		{name: "accepted webhook", driver: "paystack", validate: true},
		{name: "rejected signature", driver: "paystack", validate: false},
		{name: "unknown driver", driver: "bitcoin", validate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGateway{name: "paystack", validate: tt.validate, process: successProcessor("tx_1")}
			svc, store, _ := newTestService(g)
			seedPending(t, store, "tx_1", "paystack")
			handler := NewHandler(svc, nil, logger)

			srv := httptest.NewServer(handler.Routes())
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/"+tt.driver, "application/json", strings.NewReader(`{"event":"charge.success"}`))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
		})
	}
}

func TestReceiveQueuePath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("enqueues instead of dispatching inline", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", validate: true, process: successProcessor("tx_1")}
		svc, store, _ := newTestService(g)
		seedPending(t, store, "tx_1", "paystack")

		var queued *commonnats.WebhookJob
		enqueue := func(_ context.Context, job *commonnats.WebhookJob) error {
			queued = job
			return nil
		}
		handler := NewHandler(svc, enqueue, logger)

		srv := httptest.NewServer(handler.Routes())
		defer srv.Close()

		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/paystack", strings.NewReader(`{"event":"charge.success"}`))
		req.Header.Set("x-paystack-signature", "sig_abc")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()

		if queued == nil {
			t.Fatal("expected the webhook to be enqueued")
		}
		if queued.Driver != "paystack" || queued.Signature != "sig_abc" {
			t.Errorf("job = %+v", queued)
		}
		// Inline dispatch must not have run.
		ctx := context.Background()
		row, _ := store.GetByReference(ctx, "tx_1")
		if row.Status != gateway.StatusPending {
			t.Errorf("status = %s, want pending", row.Status)
		}
	})

	t.Run("queue failure falls back to inline dispatch", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", validate: true, process: successProcessor("tx_1")}
		svc, store, _ := newTestService(g)
		seedPending(t, store, "tx_1", "paystack")

		enqueue := func(_ context.Context, _ *commonnats.WebhookJob) error {
			return errors.New("stream unavailable")
		}
		handler := NewHandler(svc, enqueue, logger)

		srv := httptest.NewServer(handler.Routes())
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/paystack", "application/json", strings.NewReader(`{"event":"charge.success"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()

		ctx := context.Background()
		row, _ := store.GetByReference(ctx, "tx_1")
		if row.Status != gateway.StatusSuccess {
			t.Errorf("status = %s, want success via inline fallback", row.Status)
		}
	})
}

func TestExtractSignature(t *testing.T) {
	newRequest := func(headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	tests := []struct {
		driver  string
		headers map[string]string
		want    string
	}{
		{driver: "paystack", headers: map[string]string{"x-paystack-signature": "abc"}, want: "abc"},
		{driver: "flutterwave", headers: map[string]string{"verif-hash": "hash1"}, want: "hash1"},
		{driver: "monnify", headers: map[string]string{"monnify-signature": "mon1"}, want: "mon1"},
		{driver: "opay", headers: map[string]string{"Authorization": "Bearer opay1"}, want: "opay1"},
		{driver: "stripe", headers: map[string]string{"stripe-signature": "t=1,v1=x"}, want: "t=1,v1=x"},
		{driver: "square", headers: map[string]string{"x-square-hmacsha256-signature": "sq1"}, want: "sq1"},
		{driver: "nowpayments", headers: map[string]string{"x-nowpayments-sig": "np1"}, want: "np1"},
		{driver: "mollie", headers: map[string]string{"x-anything": "ignored"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got := extractSignature(tt.driver, newRequest(tt.headers))
			if got != tt.want {
				t.Errorf("extractSignature = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("paypal headers marshal to json", func(t *testing.T) {
		r := newRequest(map[string]string{
			"paypal-transmission-id":   "tid",
			"paypal-transmission-time": "2026-08-01T10:30:00Z",
			"paypal-cert-url":          "https://api.paypal.com/cert",
			"paypal-auth-algo":         "SHA256withRSA",
			"paypal-transmission-sig":  "sig64",
		})
		raw := extractSignature("paypal", r)

		var decoded map[string]string
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["transmission_id"] != "tid" || decoded["transmission_sig"] != "sig64" {
			t.Errorf("decoded = %+v", decoded)
		}
	})
}
