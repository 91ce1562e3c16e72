// Package wallet holds customer balances and the movements against
// them. The payments engine consumes it through the wallet driver.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"paygate/internal/common/database"
	"paygate/internal/common/money"
	walletdrv "paygate/internal/providers/wallet"
)

// Wallet errors
var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Service provides wallet balance operations backed by Postgres.
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// NewService creates a wallet service.
func NewService(db *database.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

var _ walletdrv.Service = (*Service)(nil)

// Debit atomically moves funds out of a wallet. The balance check and
// update run in one transaction with the row locked, so concurrent
// debits cannot overdraw.
func (s *Service) Debit(ctx context.Context, walletID, reference string, amount money.Money) (*walletdrv.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive")
	}

	tx := &walletdrv.Transaction{
		ID:        ulid.Make().String(),
		WalletID:  walletID,
		Reference: reference,
		Amount:    amount,
		Completed: true,
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.WithTx(ctx, func(dbtx pgx.Tx) error {
		var balance int64
		var currency string
		err := dbtx.QueryRow(ctx,
			`SELECT balance_minor, currency FROM wallets WHERE id = $1 FOR UPDATE`,
			walletID,
		).Scan(&balance, &currency)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("locking wallet: %w", err)
		}

		if money.Currency(currency) != amount.Currency {
			return fmt.Errorf("wallet currency %s does not match debit currency %s", currency, amount.Currency)
		}
		if balance < amount.AmountMinor {
			return ErrInsufficientFunds
		}

		_, err = dbtx.Exec(ctx,
			`UPDATE wallets SET balance_minor = balance_minor - $1, updated_at = $2 WHERE id = $3`,
			amount.AmountMinor, time.Now().UTC(), walletID,
		)
		if err != nil {
			return fmt.Errorf("debiting wallet: %w", err)
		}

		_, err = dbtx.Exec(ctx, `
			INSERT INTO wallet_transactions (
				id, wallet_id, reference, direction, amount_minor, currency,
				completed, created_at
			) VALUES ($1, $2, $3, 'debit', $4, $5, $6, $7)
		`, tx.ID, walletID, reference, amount.AmountMinor, amount.Currency, tx.Completed, tx.CreatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("movement %s: %w", reference, database.ErrAlreadyExists)
			}
			return fmt.Errorf("recording movement: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet debited",
		"wallet_id", walletID,
		"reference", reference,
		"amount", amount.AmountMinor,
	)

	return tx, nil
}

// Credit adds funds to a wallet and records the movement.
func (s *Service) Credit(ctx context.Context, walletID, reference string, amount money.Money) (*walletdrv.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive")
	}

	tx := &walletdrv.Transaction{
		ID:        ulid.Make().String(),
		WalletID:  walletID,
		Reference: reference,
		Amount:    amount,
		Completed: true,
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.WithTx(ctx, func(dbtx pgx.Tx) error {
		tag, err := dbtx.Exec(ctx,
			`UPDATE wallets SET balance_minor = balance_minor + $1, updated_at = $2 WHERE id = $3`,
			amount.AmountMinor, time.Now().UTC(), walletID,
		)
		if err != nil {
			return fmt.Errorf("crediting wallet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrWalletNotFound
		}

		_, err = dbtx.Exec(ctx, `
			INSERT INTO wallet_transactions (
				id, wallet_id, reference, direction, amount_minor, currency,
				completed, created_at
			) VALUES ($1, $2, $3, 'credit', $4, $5, $6, $7)
		`, tx.ID, walletID, reference, amount.AmountMinor, amount.Currency, tx.Completed, tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("recording movement: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet credited",
		"wallet_id", walletID,
		"reference", reference,
		"amount", amount.AmountMinor,
	)

	return tx, nil
}

// TransactionByReference fetches a movement by its payment reference.
func (s *Service) TransactionByReference(ctx context.Context, reference string) (*walletdrv.Transaction, error) {
	var tx walletdrv.Transaction
	var amountMinor int64
	var currency string

	err := s.db.QueryRow(ctx, `
		SELECT id, wallet_id, reference, amount_minor, currency, completed, created_at
		FROM wallet_transactions
		WHERE reference = $1
	`, reference).Scan(
		&tx.ID, &tx.WalletID, &tx.Reference, &amountMinor, &currency,
		&tx.Completed, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("movement %s: %w", reference, database.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching movement: %w", err)
	}

	tx.Amount = money.New(amountMinor, money.Currency(currency))
	return &tx, nil
}

// Balance returns a wallet's current balance.
func (s *Service) Balance(ctx context.Context, walletID string) (money.Money, error) {
	var balance int64
	var currency string

	err := s.db.QueryRow(ctx,
		`SELECT balance_minor, currency FROM wallets WHERE id = $1`,
		walletID,
	).Scan(&balance, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Money{}, ErrWalletNotFound
		}
		return money.Money{}, fmt.Errorf("fetching balance: %w", err)
	}

	return money.New(balance, money.Currency(currency)), nil
}
