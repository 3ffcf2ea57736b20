package models

import "time"

// PaymentEvent records a processed payment webhook so redeliveries are ignored
type PaymentEvent struct {
	EventID     string    `db:"event_id" json:"eventId"`
	EventType   string    `db:"event_type" json:"eventType"`
	UserID      string    `db:"user_id" json:"userId"`
	Credits     int64     `db:"credits" json:"credits"`
	ProcessedAt time.Time `db:"processed_at" json:"processedAt"`
}
