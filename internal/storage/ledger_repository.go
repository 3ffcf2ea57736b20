package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/models"
)

// ledgerColumns is the column list returned by every ledger query
const ledgerColumns = `user_id, free_credit_used, credits, created_at, updated_at`

// LedgerRepository is the PostgreSQL ledger.Store backed by the users table
type LedgerRepository struct {
	db *DB
}

var _ ledger.Store = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Get retrieves the ledger entry for a user
func (r *LedgerRepository) Get(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	query := `SELECT ` + ledgerColumns + ` FROM users WHERE user_id = $1`

	err := r.db.conn.GetContext(ctx, &entry, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return &entry, nil
}

// Create inserts a default ledger entry
func (r *LedgerRepository) Create(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	query := `
		INSERT INTO users (user_id)
		VALUES ($1)
		RETURNING ` + ledgerColumns

	err := r.db.conn.GetContext(ctx, &entry, query, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return &entry, nil
}

// GetOrCreate inserts a default entry unless one exists, then reads it back
func (r *LedgerRepository) GetOrCreate(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	query := `
		INSERT INTO users (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.db.conn.ExecContext(ctx, query, userID); err != nil {
		return nil, fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	return r.Get(ctx, userID)
}

// MarkFreeCreditUsed sets free_credit_used for the user
func (r *LedgerRepository) MarkFreeCreditUsed(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	query := `
		UPDATE users
		SET free_credit_used = TRUE, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + ledgerColumns

	err := r.db.conn.GetContext(ctx, &entry, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark free credit used: %w", err)
	}

	return &entry, nil
}

// DecrementCredit removes one paid credit in a single conditional UPDATE.
// The row filter credits > 0 makes the check and the write one statement.
func (r *LedgerRepository) DecrementCredit(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	query := `
		UPDATE users
		SET credits = credits - 1, updated_at = NOW()
		WHERE user_id = $1 AND credits > 0
		RETURNING ` + ledgerColumns

	err := r.db.conn.GetContext(ctx, &entry, query, userID)
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to decrement credit: %w", err)
	}

	// No row updated: either the user is unknown or has no credits
	exists, err := r.exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ledger.ErrNotFound
	}
	return nil, ledger.ErrInsufficientCredit
}

// IncrementCredit adds amount paid credits
func (r *LedgerRepository) IncrementCredit(ctx context.Context, userID string, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	var entry models.LedgerEntry
	query := `
		UPDATE users
		SET credits = credits + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + ledgerColumns

	err := r.db.conn.GetContext(ctx, &entry, query, userID, amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to increment credit: %w", err)
	}

	return &entry, nil
}

// Ping checks the database connection
func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *LedgerRepository) exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`

	if err := r.db.conn.GetContext(ctx, &exists, query, userID); err != nil {
		return false, fmt.Errorf("failed to check ledger entry: %w", err)
	}
	return exists, nil
}
