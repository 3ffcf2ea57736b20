package ledger

import (
	"context"
	"sync"
	"time"

	"flowchart_gateway/internal/models"
)

// MemoryStore is an in-process Store. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*models.LedgerEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the entry for userID
func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// Create inserts a default entry
func (s *MemoryStore) Create(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[userID]; ok {
		return nil, ErrAlreadyExists
	}
	entry := models.NewLedgerEntry(userID, s.now())
	s.entries[userID] = entry
	return entry.Clone(), nil
}

// GetOrCreate inserts a default entry if absent
func (s *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		entry = models.NewLedgerEntry(userID, s.now())
		s.entries[userID] = entry
	}
	return entry.Clone(), nil
}

// MarkFreeCreditUsed sets the free credit flag
func (s *MemoryStore) MarkFreeCreditUsed(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	return s.update(userID, func(e *models.LedgerEntry) error {
		e.FreeCreditUsed = true
		return nil
	})
}

// DecrementCredit removes one paid credit under the store lock
func (s *MemoryStore) DecrementCredit(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	return s.update(userID, func(e *models.LedgerEntry) error {
		if e.Credits < 1 {
			return ErrInsufficientCredit
		}
		e.Credits--
		return nil
	})
}

// IncrementCredit adds amount paid credits
func (s *MemoryStore) IncrementCredit(ctx context.Context, userID string, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.update(userID, func(e *models.LedgerEntry) error {
		e.Credits += amount
		return nil
	})
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// update applies fn to the entry and bumps updated_at if fn succeeds
func (s *MemoryStore) update(userID string, fn func(e *models.LedgerEntry) error) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(entry); err != nil {
		return nil, err
	}
	entry.UpdatedAt = s.now()
	return entry.Clone(), nil
}
