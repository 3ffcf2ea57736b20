package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn *sqlx.DB
}

// DBConfig holds database configuration
type DBConfig struct {
	// DSN is a lib/pq connection string or postgres:// URL
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultDBConfig returns default pool settings. DSN must be filled in by the caller.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewDB opens and verifies a PostgreSQL connection pool
func NewDB(cfg DBConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{conn: conn}, nil
}

// NewDBFromConn wraps an existing sqlx connection
func NewDBFromConn(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	err := db.conn.GetContext(ctx, &result, "SELECT 1")
	if err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// schema is applied by EnsureSchema; every statement is idempotent
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id          TEXT PRIMARY KEY,
		free_credit_used BOOLEAN     NOT NULL DEFAULT FALSE,
		credits          BIGINT      NOT NULL DEFAULT 0 CHECK (credits >= 0),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS generation_records (
		id            UUID PRIMARY KEY,
		request_id    UUID        NOT NULL,
		user_id       TEXT        NOT NULL,
		entitlement   TEXT        NOT NULL,
		prompt        TEXT        NOT NULL,
		success       BOOLEAN     NOT NULL,
		error_message TEXT        NOT NULL DEFAULT '',
		refunded      BOOLEAN     NOT NULL DEFAULT FALSE,
		latency_ms    BIGINT      NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_records_user_created
		ON generation_records (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		event_id     TEXT PRIMARY KEY,
		event_type   TEXT        NOT NULL,
		user_id      TEXT        NOT NULL,
		credits      BIGINT      NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables used by the gateway if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DBStats is a snapshot of connection pool statistics
type DBStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// GetStats returns current connection pool statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Repository factory methods

// NewLedgerRepository creates a new ledger repository
func (db *DB) NewLedgerRepository() *LedgerRepository {
	return NewLedgerRepository(db)
}

// NewGenerationRepository creates a new generation record repository
func (db *DB) NewGenerationRepository() *GenerationRepository {
	return NewGenerationRepository(db)
}

// NewPaymentEventRepository creates a new payment event repository
func (db *DB) NewPaymentEventRepository() *PaymentEventRepository {
	return NewPaymentEventRepository(db)
}
