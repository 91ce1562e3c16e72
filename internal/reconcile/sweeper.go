// Package reconcile closes the gap webhooks leave: a periodic sweep
// polls every recent pending transaction against its provider and
// applies whatever terminal outcome the provider reports. Transitions
// go through the same compare-and-swap path as webhooks, so a sweep
// racing a late webhook still yields exactly one outcome and one event.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paygate/internal/gateway"
	"paygate/internal/ledger"
	"paygate/internal/payments"
)

// Resolver resolves driver names to gateways.
type Resolver interface {
	Resolve(name string) (gateway.Gateway, error)
}

// Params bound one sweep run.
type Params struct {
	// LookbackHours limits the sweep to rows created this recently.
	LookbackHours int `json:"lookback_hours"`
	// Driver restricts the sweep to one provider when set.
	Driver string `json:"driver,omitempty"`
	// MaxBatch caps the number of rows examined.
	MaxBatch int `json:"max_batch"`
	// DryRun polls nothing and writes nothing; it reports what a real
	// run would examine.
	DryRun bool `json:"dry_run"`
}

func (p *Params) applyDefaults() {
	if p.LookbackHours <= 0 {
		p.LookbackHours = 24
	}
	if p.MaxBatch <= 0 {
		p.MaxBatch = 100
	}
}

// Entry records the outcome for one examined row.
type Entry struct {
	Reference string         `json:"reference"`
	Driver    string         `json:"driver"`
	Before    gateway.Status `json:"before"`
	After     gateway.Status `json:"after"`
	Error     string         `json:"error,omitempty"`
}

// Report summarizes a sweep run.
type Report struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Params       Params    `json:"params"`
	Examined     int       `json:"examined"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	StillPending int       `json:"still_pending"`
	Errors       int       `json:"errors"`
	Entries      []Entry   `json:"entries"`
}

// Sweeper reconciles pending transactions against their providers.
type Sweeper struct {
	store    ledger.Store
	resolver Resolver
	engine   *payments.Service
	logger   *slog.Logger
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(store ledger.Store, resolver Resolver, engine *payments.Service, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		resolver: resolver,
		engine:   engine,
		logger:   logger,
	}
}

// Run executes one sweep. It checks for cancellation between rows so an
// operator can abort a long sweep without waiting out provider calls.
func (s *Sweeper) Run(ctx context.Context, params Params) (*Report, error) {
	params.applyDefaults()

	report := &Report{
		StartedAt: time.Now().UTC(),
		Params:    params,
	}

	rows, err := s.store.ListPending(ctx, time.Duration(params.LookbackHours)*time.Hour, params.Driver, params.MaxBatch)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			s.logger.Info("sweep cancelled",
				"examined", report.Examined,
				"remaining", len(rows)-report.Examined,
			)
			break
		}

		report.Examined++
		entry := s.sweepRow(ctx, row, params.DryRun)
		report.Entries = append(report.Entries, entry)

		switch {
		case entry.Error != "":
			report.Errors++
		case entry.After == gateway.StatusSuccess:
			report.Succeeded++
		case entry.After == gateway.StatusFailed, entry.After == gateway.StatusCancelled:
			report.Failed++
		default:
			report.StillPending++
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.logger.Info("sweep finished",
		"examined", report.Examined,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"still_pending", report.StillPending,
		"errors", report.Errors,
		"dry_run", params.DryRun,
	)

	return report, nil
}

func (s *Sweeper) sweepRow(ctx context.Context, row *ledger.Transaction, dryRun bool) Entry {
	entry := Entry{
		Reference: row.Reference,
		Driver:    row.Driver,
		Before:    row.Status,
		After:     row.Status,
	}

	if dryRun {
		return entry
	}

	g, err := s.resolver.Resolve(row.Driver)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	vr, err := g.Verify(ctx, row.PollReference())
	if err != nil {
		s.logger.Warn("sweep verification failed",
			"reference", row.Reference,
			"driver", row.Driver,
			"error", err,
		)
		entry.Error = err.Error()
		return entry
	}
	vr.Reference = row.Reference

	if vr.Status.IsTerminal() {
		s.engine.Apply(ctx, row.Driver, vr)

		// Report the ledger's outcome, not the poll's, in case a
		// concurrent webhook won the transition.
		current, err := s.store.GetByReference(ctx, row.Reference)
		if err == nil {
			entry.After = current.Status
			return entry
		}
		entry.After = vr.Status
		return entry
	}

	return entry
}
