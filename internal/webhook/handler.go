package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	commonnats "paygate/internal/common/nats"
	"paygate/internal/gateway"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 1 << 20

// Handler is the HTTP surface for provider callbacks. It always
// answers 200 once the body has been read: providers retry on non-2xx,
// and a retry storm cannot fix a payload this service rejected.
type Handler struct {
	svc     *Service
	enqueue func(ctx context.Context, job *commonnats.WebhookJob) error
	logger  *slog.Logger
}

// NewHandler creates a webhook HTTP handler. When enqueue is non-nil,
// webhooks are queued for the dispatch consumer instead of being
// processed on the request goroutine; a queue failure falls back to
// inline dispatch.
func NewHandler(svc *Service, enqueue func(ctx context.Context, job *commonnats.WebhookJob) error, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, enqueue: enqueue, logger: logger}
}

// Routes returns the webhook router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{driver}", h.receive)
	return r
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	driver := chi.URLParam(r, "driver")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body read failed", "driver", driver, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	signature := extractSignature(driver, r)

	if h.enqueue != nil {
		job := &commonnats.WebhookJob{Driver: driver, Payload: body, Signature: signature}
		if err := h.enqueue(r.Context(), job); err == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Warn("webhook enqueue failed, dispatching inline", "driver", driver)
	}

	h.svc.Handle(r.Context(), driver, body, signature)
	w.WriteHeader(http.StatusOK)
}

// extractSignature pulls the provider's authenticity material out of
// the request headers. PayPal spreads it across five headers, which
// are marshalled to JSON for the driver to unpack.
func extractSignature(driver string, r *http.Request) string {
	switch driver {
	case gateway.ProviderPaystack:
		return r.Header.Get("x-paystack-signature")
	case gateway.ProviderFlutterwave:
		return r.Header.Get("verif-hash")
	case gateway.ProviderMonnify:
		return r.Header.Get("monnify-signature")
	case gateway.ProviderOPay:
		return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	case gateway.ProviderStripe:
		return r.Header.Get("stripe-signature")
	case gateway.ProviderSquare:
		return r.Header.Get("x-square-hmacsha256-signature")
	case gateway.ProviderNowPayments:
		return r.Header.Get("x-nowpayments-sig")
	case gateway.ProviderPayPal:
		headers := map[string]string{
			"transmission_id":   r.Header.Get("paypal-transmission-id"),
			"transmission_time": r.Header.Get("paypal-transmission-time"),
			"cert_url":          r.Header.Get("paypal-cert-url"),
			"auth_algo":         r.Header.Get("paypal-auth-algo"),
			"transmission_sig":  r.Header.Get("paypal-transmission-sig"),
		}
		raw, err := json.Marshal(headers)
		if err != nil {
			return ""
		}
		return string(raw)
	default: // mollie sends no signature; wallet has no webhooks
		return ""
	}
}
