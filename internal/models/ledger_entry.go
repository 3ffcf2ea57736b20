package models

import "time"

// LedgerEntry is the credit state of a single user.
// One row per user_id, created lazily on the first generation request.
type LedgerEntry struct {
	UserID         string    `db:"user_id" json:"userId"`
	FreeCreditUsed bool      `db:"free_credit_used" json:"freeCreditUsed"`
	Credits        int64     `db:"credits" json:"credits"` // paid credits, never negative
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// NewLedgerEntry returns an entry with default values for a user seen for the first time.
func NewLedgerEntry(userID string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasFreeCredit reports whether the one-time free generation is still available
func (e *LedgerEntry) HasFreeCredit() bool {
	return !e.FreeCreditUsed
}

// HasPaidCredits reports whether at least one paid credit is left
func (e *LedgerEntry) HasPaidCredits() bool {
	return e.Credits > 0
}

// Clone returns a copy that can be handed out without sharing state
func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	return &c
}
