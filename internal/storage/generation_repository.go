package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowchart_gateway/internal/models"
)

const insertGenerationRecord = `
	INSERT INTO generation_records (
		id, request_id, user_id, entitlement, prompt,
		success, error_message, refunded, latency_ms, created_at
	) VALUES (
		:id, :request_id, :user_id, :entitlement, :prompt,
		:success, :error_message, :refunded, :latency_ms, :created_at
	)
`

// GenerationRepository persists the audit trail of gate runs
type GenerationRepository struct {
	db *DB
}

// NewGenerationRepository creates a new generation record repository
func NewGenerationRepository(db *DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Create inserts a single generation record
func (r *GenerationRepository) Create(ctx context.Context, record *models.GenerationRecord) error {
	prepareRecord(record)

	if _, err := r.db.conn.NamedExecContext(ctx, insertGenerationRecord, record); err != nil {
		return fmt.Errorf("failed to create generation record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in one transaction
func (r *GenerationRepository) CreateBatch(ctx context.Context, records []*models.GenerationRecord) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		prepareRecord(record)
		if _, err := tx.NamedExecContext(ctx, insertGenerationRecord, record); err != nil {
			return fmt.Errorf("failed to insert generation record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a generation record by ID
func (r *GenerationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	var record models.GenerationRecord
	query := `
		SELECT id, request_id, user_id, entitlement, prompt,
		       success, error_message, refunded, latency_ms, created_at
		FROM generation_records
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &record, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationRecordNotFound
		}
		return nil, fmt.Errorf("failed to get generation record: %w", err)
	}

	return &record, nil
}

// ListByUser returns the most recent records for a user, newest first
func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.GenerationRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, request_id, user_id, entitlement, prompt,
		       success, error_message, refunded, latency_ms, created_at
		FROM generation_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	records := []*models.GenerationRecord{}
	if err := r.db.conn.SelectContext(ctx, &records, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list generation records: %w", err)
	}

	return records, nil
}

func prepareRecord(record *models.GenerationRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
}
