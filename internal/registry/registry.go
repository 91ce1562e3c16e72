// Package registry constructs and caches payment drivers from
// environment configuration.
package registry

import (
	"log/slog"
	"strings"
	"sync"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
	"paygate/internal/providers/flutterwave"
	"paygate/internal/providers/mollie"
	"paygate/internal/providers/monnify"
	"paygate/internal/providers/nowpayments"
	"paygate/internal/providers/opay"
	"paygate/internal/providers/paypal"
	"paygate/internal/providers/paystack"
	"paygate/internal/providers/square"
	"paygate/internal/providers/stripe"
	walletdrv "paygate/internal/providers/wallet"
)

// Config aggregates the engine defaults and every provider's credential
// block. It is loaded once at startup with envconfig.
type Config struct {
	DefaultDriver string         `envconfig:"PAY_DEFAULT_DRIVER" default:"paystack"`
	Currency      money.Currency `envconfig:"PAY_CURRENCY" default:"NGN"`

	Paystack    paystack.Config
	Flutterwave flutterwave.Config
	Monnify     monnify.Config
	OPay        opay.Config
	Stripe      stripe.Config
	Square      square.Config
	PayPal      paypal.Config
	Mollie      mollie.Config
	NowPayments nowpayments.Config
}

// Registry resolves driver names to constructed gateways. Construction
// is lazy and each driver is built at most once; misconfigured
// credentials surface on first use, not at startup.
type Registry struct {
	cfg    Config
	wallet walletdrv.Service
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]gateway.Gateway
}

// New creates a driver registry. The wallet service may be nil, in which
// case the wallet driver is unavailable.
func New(cfg Config, wallet walletdrv.Service, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		wallet: wallet,
		logger: logger,
		cache:  make(map[string]gateway.Gateway),
	}
}

// DefaultDriver returns the configured default driver name.
func (r *Registry) DefaultDriver() string { return r.cfg.DefaultDriver }

// DefaultCurrency returns the configured default currency.
func (r *Registry) DefaultCurrency() money.Currency { return r.cfg.Currency }

// Resolve returns the gateway for the named driver, constructing and
// caching it on first use. An empty name resolves to the default driver;
// an unknown name yields *gateway.UnsupportedDriverError.
func (r *Registry) Resolve(name string) (gateway.Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.cfg.DefaultDriver
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.cache[name]; ok {
		return g, nil
	}

	g, err := r.build(name)
	if err != nil {
		return nil, err
	}
	r.cache[name] = g
	return g, nil
}

func (r *Registry) build(name string) (gateway.Gateway, error) {
	switch name {
	case gateway.ProviderPaystack:
		return paystack.New(r.cfg.Paystack, r.logger), nil
	case gateway.ProviderFlutterwave:
		return flutterwave.New(r.cfg.Flutterwave, r.logger), nil
	case gateway.ProviderMonnify:
		return monnify.New(r.cfg.Monnify, r.logger), nil
	case gateway.ProviderOPay:
		return opay.New(r.cfg.OPay, r.logger), nil
	case gateway.ProviderStripe:
		return stripe.New(r.cfg.Stripe, r.logger), nil
	case gateway.ProviderSquare:
		return square.New(r.cfg.Square, r.logger), nil
	case gateway.ProviderPayPal:
		return paypal.New(r.cfg.PayPal, r.logger), nil
	case gateway.ProviderMollie:
		return mollie.New(r.cfg.Mollie, r.logger), nil
	case gateway.ProviderNowPayments:
		return nowpayments.New(r.cfg.NowPayments, r.logger), nil
	case gateway.ProviderWallet:
		if r.wallet == nil {
			return nil, &gateway.UnsupportedDriverError{Name: name}
		}
		return walletdrv.New(r.wallet, r.logger), nil
	default:
		return nil, &gateway.UnsupportedDriverError{Name: name}
	}
}
