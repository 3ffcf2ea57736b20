// Package ledger owns the per-user credit state: a one-time free credit
// flag plus a count of paid credits.
//
// Three Store backends exist:
//
//  1. MemoryStore: mutex-guarded map, for tests and single-process runs.
//  2. RedisStore: one hash per user, every mutation is a Lua script.
//  3. storage.LedgerRepository: Postgres, conditional UPDATE ... RETURNING.
//
// Every backend implements DecrementCredit as a single atomic
// compare-and-decrement. Two concurrent callers racing for the last credit
// get exactly one success and one ErrInsufficientCredit.
package ledger

import (
	"context"
	"errors"

	"flowchart_gateway/internal/models"
)

var (
	// ErrNotFound is returned when no entry exists for the user
	ErrNotFound = errors.New("ledger entry not found")

	// ErrAlreadyExists is returned by Create when the user already has an entry
	ErrAlreadyExists = errors.New("ledger entry already exists")

	// ErrInsufficientCredit is returned by DecrementCredit when credits < 1
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidAmount is returned by IncrementCredit for non-positive amounts
	ErrInvalidAmount = errors.New("credit amount must be positive")
)

// Store is the persistence contract of the user ledger, keyed by user id.
type Store interface {
	// Get is a read-only lookup. Returns ErrNotFound on a miss.
	Get(ctx context.Context, userID string) (*models.LedgerEntry, error)

	// Create inserts a default entry. Returns ErrAlreadyExists if present.
	Create(ctx context.Context, userID string) (*models.LedgerEntry, error)

	// GetOrCreate inserts a default entry if absent and returns the stored one.
	// Two concurrent first requests for the same user both get the same row.
	GetOrCreate(ctx context.Context, userID string) (*models.LedgerEntry, error)

	// MarkFreeCreditUsed sets the free credit flag. Setting it twice is a no-op
	// apart from updated_at.
	MarkFreeCreditUsed(ctx context.Context, userID string) (*models.LedgerEntry, error)

	// DecrementCredit atomically removes one paid credit if credits >= 1.
	DecrementCredit(ctx context.Context, userID string) (*models.LedgerEntry, error)

	// IncrementCredit adds amount (> 0) paid credits.
	IncrementCredit(ctx context.Context, userID string, amount int64) (*models.LedgerEntry, error)
}

// Pinger is implemented by stores that can report backend health
type Pinger interface {
	Ping(ctx context.Context) error
}
