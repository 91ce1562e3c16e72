// Package payments is the engine's orchestration layer: it opens
// payments through the driver registry, records every attempt in the
// ledger, walks fallback chains, and merges poll results back into the
// system of record.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"paygate/internal/common/api"
	"paygate/internal/common/events"
	"paygate/internal/common/money"
	"paygate/internal/gateway"
	"paygate/internal/ledger"
)

// Resolver resolves driver names to gateways. The registry implements
// it; tests substitute fakes.
type Resolver interface {
	Resolve(name string) (gateway.Gateway, error)
	DefaultDriver() string
	DefaultCurrency() money.Currency
}

// Service orchestrates payment initialization and verification.
type Service struct {
	resolver  Resolver
	store     ledger.Store
	publisher events.EventPublisher
	logger    *slog.Logger
}

// NewService creates a payments service. The publisher may be nil, in
// which case terminal events are not emitted.
func NewService(resolver Resolver, store ledger.Store, publisher events.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		resolver:  resolver,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Initialize opens a payment. The ledger row is created pending before
// the first provider call so a crash mid-attempt leaves a sweepable
// record rather than an untracked charge. Fallback drivers are tried in
// order against the same request; each switchover rewrites the row's
// driver column, and when every driver fails the row is marked failed
// and the last driver's error is returned.
func (s *Service) Initialize(ctx context.Context, req *gateway.PaymentRequest, driver string, fallbacks []string) (*gateway.PaymentResult, error) {
	if req.Amount.Currency == "" {
		req.Amount.Currency = s.resolver.DefaultCurrency()
	}
	if !money.IsSupported(req.Amount.Currency) {
		return nil, fmt.Errorf("unsupported currency %q", req.Amount.Currency)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}

	if req.Reference == "" {
		req.Reference = "tx_" + ulid.Make().String()
	}

	primary, err := s.resolver.Resolve(driver)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &ledger.Transaction{
		ID:        ulid.Make().String(),
		Reference: req.Reference,
		Driver:    primary.Driver(),
		Status:    gateway.StatusPending,
		Amount:    req.Amount,
		Email:     req.Email,
		Metadata:  req.Metadata,
		OwnerID:   req.MetaString("owner_id", ""),
		OwnerType: req.MetaString("owner_type", ""),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("recording transaction: %w", err)
	}

	chain := []gateway.Gateway{primary}
	var lastErr error

	for i := 0; ; i++ {
		var g gateway.Gateway
		if i < len(chain) {
			g = chain[i]
		} else {
			idx := i - len(chain)
			if idx >= len(fallbacks) {
				break
			}
			g, err = s.resolver.Resolve(fallbacks[idx])
			if err != nil {
				s.logger.Warn("skipping unknown fallback driver",
					"reference", req.Reference,
					"driver", fallbacks[idx],
					"error", err,
				)
				lastErr = err
				continue
			}
			if err := s.store.UpdateDriver(ctx, req.Reference, g.Driver()); err != nil {
				return nil, fmt.Errorf("switching driver: %w", err)
			}
			s.logger.Info("falling back to next driver",
				"reference", req.Reference,
				"driver", g.Driver(),
			)
		}

		result, err := g.Initialize(ctx, req)
		if err != nil {
			s.logger.Warn("driver initialization failed",
				"reference", req.Reference,
				"driver", g.Driver(),
				"error", err,
			)
			lastErr = err
			continue
		}

		engineRef := result.Reference
		if engineRef == "" {
			engineRef = req.Reference
		}
		if engineRef != req.Reference || result.VerifyReference != "" {
			if err := s.store.AttachProvider(ctx, req.Reference, engineRef, result.VerifyReference); err != nil {
				return nil, fmt.Errorf("attaching provider references: %w", err)
			}
		}

		if result.Status.IsTerminal() {
			s.applyTransition(ctx, engineRef, g.Driver(), req.Amount, result.Status, nil, result.Metadata)
		}

		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no payment driver available")
	}

	s.applyTransition(ctx, req.Reference, row.Driver, req.Amount, gateway.StatusFailed, nil, map[string]any{
		"reason": lastErr.Error(),
	})

	return nil, lastErr
}

// Verify polls the row's driver and merges the outcome into the ledger.
// The ledger stays authoritative: a terminal row is never rewritten by
// a conflicting poll result.
func (s *Service) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	row, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	g, err := s.resolver.Resolve(row.Driver)
	if err != nil {
		return nil, err
	}

	vr, err := g.Verify(ctx, row.PollReference())
	if err != nil {
		return nil, err
	}
	vr.Reference = row.Reference

	if vr.Status.IsTerminal() {
		s.applyTransition(ctx, row.Reference, row.Driver, vr.Amount, vr.Status, vr.PaidAt, vr.Metadata)

		// Reload so a lost race reports the ledger's outcome.
		current, err := s.store.GetByReference(ctx, row.Reference)
		if err == nil && current.Status.IsTerminal() {
			vr.Status = current.Status
		}
	}

	return vr, nil
}

// Apply merges a terminal verification result into the ledger on
// behalf of the webhook and reconciliation paths. Non-terminal results
// are ignored; conflicts are logged and swallowed.
func (s *Service) Apply(ctx context.Context, driver string, vr *gateway.VerificationResult) {
	if !vr.Status.IsTerminal() {
		return
	}
	s.applyTransition(ctx, vr.Reference, driver, vr.Amount, vr.Status, vr.PaidAt, vr.Metadata)
}

// Get returns the ledger row for a reference.
func (s *Service) Get(ctx context.Context, reference string) (*ledger.Transaction, error) {
	return s.store.GetByReference(ctx, reference)
}

// applyTransition moves the row to a terminal status and emits the
// matching event when the transition is the one that lands. Conflicts
// are logged, never propagated.
func (s *Service) applyTransition(ctx context.Context, reference, driver string, amount money.Money, to gateway.Status, paidAt *time.Time, payload map[string]any) {
	if to == gateway.StatusSuccess && paidAt == nil {
		now := time.Now().UTC()
		paidAt = &now
	}

	applied, err := s.store.TransitionStatus(ctx, reference, to, paidAt)
	if err != nil {
		var conflict *ledger.ConflictError
		if errors.As(err, &conflict) {
			s.logger.Warn("conflicting terminal transition ignored",
				"reference", reference,
				"current", conflict.Current,
				"attempted", conflict.Attempted,
			)
			return
		}
		s.logger.Error("status transition failed", "reference", reference, "error", err)
		return
	}
	if !applied {
		return
	}

	s.emit(ctx, reference, driver, amount, to, paidAt, payload)
}

func (s *Service) emit(ctx context.Context, reference, driver string, amount money.Money, to gateway.Status, paidAt *time.Time, payload map[string]any) {
	if s.publisher == nil {
		return
	}

	var event *events.Event
	var err error
	switch to {
	case gateway.StatusSuccess:
		event, err = events.NewEvent(events.EventPaymentSucceeded, reference, events.PaymentSucceededData{
			Reference:   reference,
			Driver:      driver,
			AmountMinor: amount.AmountMinor,
			Currency:    string(amount.Currency),
			PaidAt:      paidAt,
			Payload:     payload,
		})
	case gateway.StatusFailed, gateway.StatusCancelled:
		reason := ""
		if payload != nil {
			if r, ok := payload["reason"].(string); ok {
				reason = r
			}
		}
		event, err = events.NewEvent(events.EventPaymentFailed, reference, events.PaymentFailedData{
			Reference:   reference,
			Driver:      driver,
			AmountMinor: amount.AmountMinor,
			Currency:    string(amount.Currency),
			Reason:      reason,
		})
	default:
		return
	}
	if err != nil {
		s.logger.Error("building event failed", "reference", reference, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("publishing event failed",
			"reference", reference,
			"type", event.Type,
			"error", err,
		)
	}
}
