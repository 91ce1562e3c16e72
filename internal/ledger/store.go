package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"paygate/internal/common/database"
	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

// PGStore is the Postgres-backed ledger store.
type PGStore struct {
	db *database.DB
}

// NewPGStore creates a Postgres ledger store.
func NewPGStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

// Create inserts a new pending row.
func (s *PGStore) Create(ctx context.Context, tx *Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO payment_transactions (
			id, reference, verify_reference, driver, status, amount_minor,
			currency, email, metadata, owner_id, owner_type, paid_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err = s.db.Exec(ctx, query,
		tx.ID,
		tx.Reference,
		tx.VerifyRef,
		tx.Driver,
		tx.Status,
		tx.Amount.AmountMinor,
		tx.Amount.Currency,
		tx.Email,
		metadata,
		tx.OwnerID,
		tx.OwnerType,
		tx.PaidAt,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", tx.Reference, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating transaction: %w", err)
	}

	return nil
}

// GetByReference fetches a row by its unique reference.
func (s *PGStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	query := `
		SELECT id, reference, verify_reference, driver, status, amount_minor,
			   currency, email, metadata, owner_id, owner_type, paid_at,
			   created_at, updated_at
		FROM payment_transactions
		WHERE reference = $1
	`

	row := s.db.QueryRow(ctx, query, reference)
	return scanTransaction(row)
}

// AttachProvider records the provider-assigned references on a pending
// row.
func (s *PGStore) AttachProvider(ctx context.Context, reference, newReference, verifyRef string) error {
	query := `
		UPDATE payment_transactions
		SET reference = $1, verify_reference = $2, updated_at = $3
		WHERE reference = $4 AND status = 'pending'
	`

	tag, err := s.db.Exec(ctx, query, newReference, verifyRef, time.Now().UTC(), reference)
	if err != nil {
		return fmt.Errorf("attaching provider references: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", reference, database.ErrNotFound)
	}
	return nil
}

// UpdateDriver rewrites the driver column for a pending row.
func (s *PGStore) UpdateDriver(ctx context.Context, reference, driver string) error {
	query := `
		UPDATE payment_transactions
		SET driver = $1, updated_at = $2
		WHERE reference = $3 AND status = 'pending'
	`

	tag, err := s.db.Exec(ctx, query, driver, time.Now().UTC(), reference)
	if err != nil {
		return fmt.Errorf("updating driver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", reference, database.ErrNotFound)
	}
	return nil
}

// TransitionStatus conditionally moves a pending row to the given
// status. The conditional UPDATE is the serialization point: whichever
// caller lands first wins, later callers observe zero rows affected.
func (s *PGStore) TransitionStatus(ctx context.Context, reference string, to gateway.Status, paidAt *time.Time) (bool, error) {
	if to == gateway.StatusPending {
		return false, nil
	}

	query := `
		UPDATE payment_transactions
		SET status = $1, paid_at = COALESCE($2, paid_at), updated_at = $3
		WHERE reference = $4 AND status = 'pending'
	`

	tag, err := s.db.Exec(ctx, query, to, paidAt, time.Now().UTC(), reference)
	if err != nil {
		return false, fmt.Errorf("transitioning status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	current, err := s.GetByReference(ctx, reference)
	if err != nil {
		return false, err
	}
	if current.Status == to {
		// Redelivery of the same outcome, nothing to do.
		return false, nil
	}
	return false, &ConflictError{Reference: reference, Current: current.Status, Attempted: to}
}

// ListPending returns pending rows created within the lookback window,
// oldest first.
func (s *PGStore) ListPending(ctx context.Context, lookback time.Duration, driver string, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, reference, verify_reference, driver, status, amount_minor,
			   currency, email, metadata, owner_id, owner_type, paid_at,
			   created_at, updated_at
		FROM payment_transactions
		WHERE status = 'pending' AND created_at >= $1
	`
	args := []interface{}{time.Now().UTC().Add(-lookback)}

	if driver != "" {
		query += ` AND driver = $2`
		args = append(args, driver)
	}

	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	tx, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	return tx, nil
}

func scanTransactionRows(rows pgx.Rows) (*Transaction, error) {
	tx, err := scanRow(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	return tx, nil
}

func scanRow(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var amountMinor int64
	var currency string
	var metadata []byte

	err := row.Scan(
		&t.ID, &t.Reference, &t.VerifyRef, &t.Driver, &t.Status, &amountMinor,
		&currency, &t.Email, &metadata, &t.OwnerID, &t.OwnerType, &t.PaidAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Amount = money.New(amountMinor, money.Currency(currency))
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	return &t, nil
}
