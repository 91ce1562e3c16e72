// Package wallet implements the internal balance driver. It settles
// synchronously against a wallet service instead of redirecting to an
// external checkout, so results are terminal at initialization time and
// there is no webhook surface.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Transaction is a settled wallet movement.
type Transaction struct {
	ID        string
	WalletID  string
	Reference string
	Amount    money.Money
	Completed bool
	CreatedAt time.Time
}

// Service is the wallet backend the driver debits against.
type Service interface {
	Debit(ctx context.Context, walletID, reference string, amount money.Money) (*Transaction, error)
	TransactionByReference(ctx context.Context, reference string) (*Transaction, error)
}

// Driver implements gateway.Gateway against an internal wallet.
type Driver struct {
	svc    Service
	logger *slog.Logger
}

// New creates a wallet driver.
func New(svc Service, logger *slog.Logger) *Driver {
	return &Driver{svc: svc, logger: logger}
}

// Driver returns the provider identifier.
func (d *Driver) Driver() string { return gateway.ProviderWallet }

// Initialize debits the wallet named in the request metadata and
// settles immediately. A declined debit yields a failed result rather
// than an error so fallback chains do not retry a balance problem on
// another processor.
func (d *Driver) Initialize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	walletID := req.MetaString("wallet_id", "")
	if walletID == "" {
		return nil, gateway.WrapError(d.Driver(), "initialize", fmt.Errorf("metadata wallet_id is required"))
	}

	tx, err := d.svc.Debit(ctx, walletID, req.Reference, req.Amount)
	if err != nil {
		d.logger.Warn("wallet debit declined",
			"reference", req.Reference,
			"wallet_id", walletID,
			"error", err,
		)
		return &gateway.PaymentResult{
			Reference: req.Reference,
			Status:    gateway.StatusFailed,
			Metadata:  map[string]any{"reason": err.Error()},
		}, nil
	}

	d.logger.Info("wallet debit settled",
		"reference", req.Reference,
		"wallet_id", walletID,
		"transaction_id", tx.ID,
	)

	return &gateway.PaymentResult{
		Reference:         req.Reference,
		Status:            gateway.StatusSuccess,
		ProviderReference: tx.ID,
		Metadata: map[string]any{
			"wallet_id":      walletID,
			"transaction_id": tx.ID,
		},
	}, nil
}

// Verify looks the movement up by reference.
func (d *Driver) Verify(ctx context.Context, reference string) (*gateway.VerificationResult, error) {
	tx, err := d.svc.TransactionByReference(ctx, reference)
	if err != nil {
		return nil, gateway.WrapError(d.Driver(), "verify", err)
	}

	status := gateway.StatusFailed
	var paidAt *time.Time
	if tx.Completed {
		status = gateway.StatusSuccess
		t := tx.CreatedAt
		paidAt = &t
	}

	return &gateway.VerificationResult{
		Reference: reference,
		Status:    status,
		Amount:    tx.Amount,
		PaidAt:    paidAt,
		Metadata: map[string]any{
			"wallet_id":      tx.WalletID,
			"transaction_id": tx.ID,
		},
	}, nil
}

// ValidateWebhook rejects everything; the wallet has no inbound webhook
// surface, so nothing presented against it can be authentic.
func (d *Driver) ValidateWebhook(_ context.Context, _ []byte, _ string) bool {
	return false
}

// ProcessWebhook is unsupported for the wallet driver.
func (d *Driver) ProcessWebhook(_ context.Context, _ map[string]any) (*gateway.VerificationResult, error) {
	return nil, fmt.Errorf("wallet driver does not process webhooks")
}
