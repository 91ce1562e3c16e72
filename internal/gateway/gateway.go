// Package gateway defines the provider-neutral payment contract: the
// canonical value objects, the Gateway interface every driver implements,
// and the error taxonomy shared across the engine.
package gateway

import (
	"context"
)

// Driver name constants for the supported providers.
const (
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
	ProviderMonnify     = "monnify"
	ProviderOPay        = "opay"
	ProviderStripe      = "stripe"
	ProviderSquare      = "square"
	ProviderPayPal      = "paypal"
	ProviderMollie      = "mollie"
	ProviderNowPayments = "nowpayments"
	ProviderWallet      = "wallet"
)

// Gateway is the contract implemented by every payment driver.
//
// The reference passed to Verify is provider-specific: Paystack,
// Flutterwave and Monnify use the engine reference, Stripe a checkout
// session id, PayPal an order id, Mollie and NowPayments the provider
// payment id.
type Gateway interface {
	// Driver returns the stable provider identifier. It is used as the
	// ledger's driver column and as the registry cache key.
	Driver() string

	// Initialize opens a transaction with the provider. Any non-success
	// provider response fails with *Error carrying the raw body; provider
	// errors are never swallowed here.
	Initialize(ctx context.Context, req *PaymentRequest) (*PaymentResult, error)

	// Verify actively polls the provider by reference. A non-terminal
	// provider state is a valid pending result, not an error.
	Verify(ctx context.Context, reference string) (*VerificationResult, error)

	// ValidateWebhook checks the authenticity of a raw webhook payload.
	// It returns false, never an error, when the configured secret is
	// missing; callers must treat false as "reject and do not process".
	// The context is only used by drivers whose scheme requires an
	// outbound provider call (PayPal).
	ValidateWebhook(ctx context.Context, payload []byte, signature string) bool

	// ProcessWebhook normalizes an already-authenticated, decoded payload
	// into the canonical verification result. It does not call out to the
	// network, except where the provider's webhook omits the
	// authoritative status and a confirmatory fetch is unavoidable
	// (Mollie sends only the payment id).
	ProcessWebhook(ctx context.Context, payload map[string]any) (*VerificationResult, error)
}

// SubscriptionGateway is implemented by drivers that additionally support
// recurring billing plans (currently Paystack).
type SubscriptionGateway interface {
	Gateway

	CreatePlan(ctx context.Context, plan map[string]any) (map[string]any, error)
	Subscribe(ctx context.Context, req *PaymentRequest) (*PaymentResult, error)
	Unsubscribe(ctx context.Context, subscriptionCode string) error
}
