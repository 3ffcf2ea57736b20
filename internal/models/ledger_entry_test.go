package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewLedgerEntry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := NewLedgerEntry("u1", now)

	assert.Equal(t, "u1", entry.UserID)
	assert.False(t, entry.FreeCreditUsed)
	assert.Equal(t, int64(0), entry.Credits)
	assert.Equal(t, now, entry.CreatedAt)
	assert.Equal(t, now, entry.UpdatedAt)
	assert.True(t, entry.HasFreeCredit())
	assert.False(t, entry.HasPaidCredits())
}

func TestLedgerEntry_HasPaidCredits(t *testing.T) {
	tests := []struct {
		name    string
		credits int64
		want    bool
	}{
		{name: "no credits", credits: 0, want: false},
		{name: "one credit", credits: 1, want: true},
		{name: "many credits", credits: 42, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &LedgerEntry{UserID: "u", Credits: tt.credits}
			assert.Equal(t, tt.want, entry.HasPaidCredits())
		})
	}
}

func TestLedgerEntry_Clone(t *testing.T) {
	entry := &LedgerEntry{UserID: "u1", Credits: 3}
	clone := entry.Clone()
	clone.Credits = 0
	clone.FreeCreditUsed = true

	assert.Equal(t, int64(3), entry.Credits)
	assert.False(t, entry.FreeCreditUsed)
}

func TestGenerationRecord_Charged(t *testing.T) {
	tests := []struct {
		name   string
		record GenerationRecord
		want   bool
	}{
		{
			name:   "free success consumes the free credit",
			record: GenerationRecord{Entitlement: EntitlementFree, Success: true},
			want:   true,
		},
		{
			name:   "free failure keeps the free credit",
			record: GenerationRecord{Entitlement: EntitlementFree, Success: false},
			want:   false,
		},
		{
			name:   "paid success",
			record: GenerationRecord{Entitlement: EntitlementPaid, Success: true},
			want:   true,
		},
		{
			name:   "paid failure without refund",
			record: GenerationRecord{Entitlement: EntitlementPaid, Success: false},
			want:   true,
		},
		{
			name:   "paid failure refunded",
			record: GenerationRecord{Entitlement: EntitlementPaid, Success: false, Refunded: true},
			want:   false,
		},
		{
			name:   "denied",
			record: GenerationRecord{Entitlement: EntitlementDenied},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.record.ID = uuid.New()
			assert.Equal(t, tt.want, tt.record.Charged())
		})
	}
}
