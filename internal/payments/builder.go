package payments

import (
	"context"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Builder assembles a payment request fluently. Zero-value fields fall
// back to engine defaults at Initialize time: currency to the
// configured default, driver to the default driver, reference to a
// generated one.
type Builder struct {
	svc       *Service
	amount    int64
	currency  money.Currency
	email     string
	reference string
	callback  string
	metadata  map[string]any
	driver    string
	fallbacks []string
}

// Payment starts a new payment builder.
func (s *Service) Payment() *Builder {
	return &Builder{svc: s}
}

// Amount sets the charge amount in minor units.
func (b *Builder) Amount(minor int64) *Builder {
	b.amount = minor
	return b
}

// Currency sets the charge currency.
func (b *Builder) Currency(c money.Currency) *Builder {
	b.currency = c
	return b
}

// Email sets the customer email.
func (b *Builder) Email(email string) *Builder {
	b.email = email
	return b
}

// Reference sets an explicit transaction reference.
func (b *Builder) Reference(reference string) *Builder {
	b.reference = reference
	return b
}

// CallbackURL sets the post-payment redirect URL.
func (b *Builder) CallbackURL(url string) *Builder {
	b.callback = url
	return b
}

// Meta adds one metadata entry.
func (b *Builder) Meta(key string, value any) *Builder {
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[key] = value
	return b
}

// Metadata merges a metadata map.
func (b *Builder) Metadata(m map[string]any) *Builder {
	for k, v := range m {
		b.Meta(k, v)
	}
	return b
}

// Driver selects the primary driver.
func (b *Builder) Driver(name string) *Builder {
	b.driver = name
	return b
}

// Fallback appends drivers to try, in order, when earlier ones fail.
func (b *Builder) Fallback(names ...string) *Builder {
	b.fallbacks = append(b.fallbacks, names...)
	return b
}

// Initialize opens the payment through the service.
func (b *Builder) Initialize(ctx context.Context) (*gateway.PaymentResult, error) {
	currency := b.currency
	if currency == "" {
		currency = b.svc.resolver.DefaultCurrency()
	}

	req := &gateway.PaymentRequest{
		Amount:      money.New(b.amount, currency),
		Email:       b.email,
		Reference:   b.reference,
		CallbackURL: b.callback,
		Metadata:    b.metadata,
	}

	return b.svc.Initialize(ctx, req, b.driver, b.fallbacks)
}
