package storage

import (
	"context"
	"fmt"
	"time"

	"flowchart_gateway/internal/models"
)

// PaymentEventRepository records processed payment webhook events
type PaymentEventRepository struct {
	db *DB
}

// NewPaymentEventRepository creates a new payment event repository
func NewPaymentEventRepository(db *DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// MarkProcessed inserts the event and reports whether this call recorded it.
// false means the event id was already present.
func (r *PaymentEventRepository) MarkProcessed(ctx context.Context, event *models.PaymentEvent) (bool, error) {
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payment_events (event_id, event_type, user_id, credits, processed_at)
		VALUES (:event_id, :event_type, :user_id, :credits, :processed_at)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := r.db.conn.NamedExecContext(ctx, query, event)
	if err != nil {
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// Unmark removes an event so a redelivery is processed again
func (r *PaymentEventRepository) Unmark(ctx context.Context, eventID string) error {
	query := `DELETE FROM payment_events WHERE event_id = $1`

	if _, err := r.db.conn.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to delete payment event: %w", err)
	}
	return nil
}
