package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paygate/internal/common/api"
	"paygate/internal/common/database"
	"paygate/internal/common/money"
	"paygate/internal/gateway"
	"paygate/internal/payments"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *payments.Service
}

// NewHandler creates a new payments handler
func NewHandler(service *payments.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.InitializePayment)
	r.Get("/{reference}", h.GetPayment)
	r.Post("/{reference}/verify", h.VerifyPayment)

	return r
}

// InitializePaymentRequest is the API request for opening a payment
type InitializePaymentRequest struct {
	AmountMinor int64          `json:"amount_minor" validate:"required,gt=0"`
	Currency    string         `json:"currency" validate:"omitempty,len=3"`
	Email       string         `json:"email" validate:"required,email"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url" validate:"omitempty,url"`
	Metadata    map[string]any `json:"metadata"`
	Driver      string         `json:"driver"`
	Fallbacks   []string       `json:"fallbacks"`
}

// InitializePayment handles POST /payments
func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	var req InitializePaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	builder := h.service.Payment().
		Amount(req.AmountMinor).
		Currency(money.Currency(req.Currency)).
		Email(req.Email).
		Reference(req.Reference).
		CallbackURL(req.CallbackURL).
		Metadata(req.Metadata).
		Driver(req.Driver).
		Fallback(req.Fallbacks...)

	result, err := builder.Initialize(r.Context())
	if err != nil {
		var unsupported *gateway.UnsupportedDriverError
		if errors.As(err, &unsupported) {
			api.WriteError(w, http.StatusBadRequest, api.ErrCodeUnsupportedDriver, unsupported.Error())
			return
		}
		if errors.Is(err, database.ErrAlreadyExists) {
			api.Conflict(w, "a payment with this reference already exists")
			return
		}
		var provErr *gateway.Error
		if errors.As(err, &provErr) {
			api.WriteError(w, http.StatusBadGateway, api.ErrCodeProviderError, provErr.Error())
			return
		}
		api.BadRequest(w, err.Error())
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// GetPayment handles GET /payments/{reference}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	tx, err := h.service.Get(r.Context(), reference)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.InternalError(w, "failed to load payment")
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

// VerifyPayment handles POST /payments/{reference}/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	result, err := h.service.Verify(r.Context(), reference)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		var provErr *gateway.Error
		if errors.As(err, &provErr) {
			api.WriteError(w, http.StatusBadGateway, api.ErrCodeProviderError, provErr.Error())
			return
		}
		api.InternalError(w, "failed to verify payment")
		return
	}

	api.WriteData(w, http.StatusOK, result)
}
