package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"paygate/internal/common/database"
	"paygate/internal/gateway"
)

// MemStore is an in-memory ledger store with the same transition
// semantics as the Postgres store. It backs tests and local runs
// without a database.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]*Transaction
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*Transaction)}
}

var _ Store = (*MemStore)(nil)

// Create inserts a new pending row.
func (s *MemStore) Create(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[tx.Reference]; ok {
		return database.ErrAlreadyExists
	}
	cp := *tx
	s.rows[tx.Reference] = &cp
	return nil
}

// GetByReference fetches a row by reference.
func (s *MemStore) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[reference]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// AttachProvider records the provider-assigned references on a pending
// row.
func (s *MemStore) AttachProvider(_ context.Context, reference, newReference, verifyRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[reference]
	if !ok || tx.Status != gateway.StatusPending {
		return database.ErrNotFound
	}
	delete(s.rows, reference)
	tx.Reference = newReference
	tx.VerifyRef = verifyRef
	tx.UpdatedAt = time.Now().UTC()
	s.rows[newReference] = tx
	return nil
}

// UpdateDriver rewrites the driver column for a pending row.
func (s *MemStore) UpdateDriver(_ context.Context, reference, driver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[reference]
	if !ok || tx.Status != gateway.StatusPending {
		return database.ErrNotFound
	}
	tx.Driver = driver
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionStatus conditionally moves a pending row to the given
// status.
func (s *MemStore) TransitionStatus(_ context.Context, reference string, to gateway.Status, paidAt *time.Time) (bool, error) {
	if to == gateway.StatusPending {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[reference]
	if !ok {
		return false, database.ErrNotFound
	}

	if tx.Status != gateway.StatusPending {
		if tx.Status == to {
			return false, nil
		}
		return false, &ConflictError{Reference: reference, Current: tx.Status, Attempted: to}
	}

	tx.Status = to
	if paidAt != nil {
		tx.PaidAt = paidAt
	}
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListPending returns pending rows created within the lookback window,
// oldest first.
func (s *MemStore) ListPending(_ context.Context, lookback time.Duration, driver string, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-lookback)

	var txs []*Transaction
	for _, tx := range s.rows {
		if tx.Status != gateway.StatusPending {
			continue
		}
		if tx.CreatedAt.Before(cutoff) {
			continue
		}
		if driver != "" && tx.Driver != driver {
			continue
		}
		cp := *tx
		txs = append(txs, &cp)
	}

	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}
