package models

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is the FREE/PAID/DENIED classification made for each request.
type Entitlement string

const (
	EntitlementNone   Entitlement = ""
	EntitlementFree   Entitlement = "free"
	EntitlementPaid   Entitlement = "paid"
	EntitlementDenied Entitlement = "denied"
)

// GenerationRecord is the audit row written for every generation attempt
type GenerationRecord struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	RequestID    uuid.UUID   `db:"request_id" json:"requestId"`
	UserID       string      `db:"user_id" json:"userId"`
	Entitlement  Entitlement `db:"entitlement" json:"entitlement"`
	Prompt       string      `db:"prompt" json:"prompt"`
	Success      bool        `db:"success" json:"success"`
	ErrorMessage string      `db:"error_message" json:"errorMessage,omitempty"`
	Refunded     bool        `db:"refunded" json:"refunded"`
	LatencyMS    int64       `db:"latency_ms" json:"latencyMs"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
}

// Charged reports whether this attempt consumed a credit that was not given back
func (r *GenerationRecord) Charged() bool {
	switch r.Entitlement {
	case EntitlementFree:
		return r.Success
	case EntitlementPaid:
		return !r.Refunded
	default:
		return false
	}
}
