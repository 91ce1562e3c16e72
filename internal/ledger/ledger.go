// Package ledger owns the payment transaction ledger: the system of
// record for every initialized payment and the single place status
// transitions are applied. Terminal statuses are immutable; transitions
// are compare-and-swap against pending so concurrent webhook and sweep
// deliveries cannot double-apply.
package ledger

import (
	"context"
	"fmt"
	"time"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// Transaction is a ledger row for one payment attempt chain. The
// reference is unique; driver records whichever provider currently owns
// the attempt and is rewritten when a fallback chain switches over.
type Transaction struct {
	ID        string         `json:"id"`
	Reference string         `json:"reference"`
	VerifyRef string         `json:"verify_reference,omitempty"`
	Driver    string         `json:"driver"`
	Status    gateway.Status `json:"status"`
	Amount    money.Money    `json:"amount"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	OwnerID   string         `json:"owner_id,omitempty"`
	OwnerType string         `json:"owner_type,omitempty"`
	PaidAt    *time.Time     `json:"paid_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PollReference returns the key the owning driver's Verify expects.
func (t *Transaction) PollReference() string {
	if t.VerifyRef != "" {
		return t.VerifyRef
	}
	return t.Reference
}

// ConflictError reports an attempt to move a row that already holds a
// different terminal status. The row is left untouched.
type ConflictError struct {
	Reference string
	Current   gateway.Status
	Attempted gateway.Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction %s is already %s, cannot transition to %s",
		e.Reference, e.Current, e.Attempted)
}

// Store is the ledger persistence contract.
type Store interface {
	// Create inserts a new pending row. A duplicate reference fails.
	Create(ctx context.Context, tx *Transaction) error

	// GetByReference fetches a row by its unique reference.
	GetByReference(ctx context.Context, reference string) (*Transaction, error)

	// UpdateDriver rewrites the driver column when a fallback chain
	// hands the attempt to the next provider.
	UpdateDriver(ctx context.Context, reference, driver string) error

	// AttachProvider records the provider's view of a pending row after
	// a successful initialization: the engine reference the provider
	// will report back (which may differ from the requested one) and
	// the key its Verify polls by.
	AttachProvider(ctx context.Context, reference, newReference, verifyRef string) error

	// TransitionStatus conditionally moves a pending row to the given
	// status. It reports whether the transition was applied: moving to
	// pending or repeating the already-held terminal status is a no-op,
	// and a different terminal status yields *ConflictError.
	TransitionStatus(ctx context.Context, reference string, to gateway.Status, paidAt *time.Time) (bool, error)

	// ListPending returns pending rows created within the lookback
	// window, oldest first, optionally filtered by driver.
	ListPending(ctx context.Context, lookback time.Duration, driver string, limit int) ([]*Transaction, error)
}
