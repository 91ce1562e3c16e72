// Package webhook turns raw provider callbacks into ledger transitions.
// Dispatch is loss-tolerant by design: every failure mode is logged and
// dropped, because the reconciliation sweep will re-derive any outcome
// a lost webhook carried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"

	"paygate/internal/common/database"
	"paygate/internal/gateway"
	"paygate/internal/ledger"
	"paygate/internal/payments"
)

// Resolver resolves driver names to gateways.
type Resolver interface {
	Resolve(name string) (gateway.Gateway, error)
}

// Service authenticates, decodes, and applies inbound webhooks.
type Service struct {
	resolver Resolver
	store    ledger.Store
	engine   *payments.Service
	logger   *slog.Logger
}

// NewService creates a webhook dispatch service.
func NewService(resolver Resolver, store ledger.Store, engine *payments.Service, logger *slog.Logger) *Service {
	return &Service{
		resolver: resolver,
		store:    store,
		engine:   engine,
		logger:   logger,
	}
}

// Handle processes one raw webhook. It never returns an error: the
// provider has already been answered 200, and anything unprocessable
// here is either junk or will be recovered by the sweep.
func (s *Service) Handle(ctx context.Context, driver string, payload []byte, signature string) {
	g, err := s.resolver.Resolve(driver)
	if err != nil {
		s.logger.Warn("webhook for unknown driver dropped", "driver", driver, "error", err)
		return
	}

	if !g.ValidateWebhook(ctx, payload, signature) {
		s.logger.Warn("webhook rejected",
			"driver", driver,
			"error", gateway.ErrWebhookAuthenticity,
		)
		return
	}

	decoded, err := decodePayload(payload)
	if err != nil {
		s.logger.Warn("webhook payload undecodable", "driver", driver, "error", err)
		return
	}

	vr, err := g.ProcessWebhook(ctx, decoded)
	if err != nil {
		s.logger.Warn("webhook processing failed", "driver", driver, "error", err)
		return
	}

	if !vr.Status.IsTerminal() {
		s.logger.Debug("webhook reported non-terminal status",
			"driver", driver,
			"reference", vr.Reference,
			"status", vr.Status,
		)
		return
	}

	if _, err := s.store.GetByReference(ctx, vr.Reference); err != nil {
		if database.IsNotFound(err) {
			s.logger.Info("webhook for unknown reference dropped",
				"driver", driver,
				"reference", vr.Reference,
			)
			return
		}
		s.logger.Error("webhook ledger lookup failed",
			"driver", driver,
			"reference", vr.Reference,
			"error", err,
		)
		return
	}

	s.engine.Apply(ctx, driver, vr)
}

// decodePayload decodes a webhook body as JSON, falling back to form
// encoding (Mollie posts "id=tr_..."). Numbers stay json.Number so
// minor-unit amounts never pass through a float.
func decodePayload(payload []byte) (map[string]any, error) {
	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err == nil {
		return decoded, nil
	}

	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, err
	}
	decoded = make(map[string]any, len(values))
	for k := range values {
		decoded[k] = values.Get(k)
	}
	return decoded, nil
}
