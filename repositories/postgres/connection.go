package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/assistant-backend/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema.
// The partial unique index on (aggregate_id, version) is what turns concurrent
// versioned appends on the same aggregate into version conflicts.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Append-only event log
		CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			type VARCHAR(255) NOT NULL,
			aggregate_id UUID,
			aggregate_type VARCHAR(100),
			version BIGINT,
			data JSONB NOT NULL DEFAULT '{}',
			metadata JSONB,
			user_id UUID,
			workspace_id UUID,
			source VARCHAR(32) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			correlation_id UUID NOT NULL,
			causation_id UUID,
			request_id VARCHAR(255)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS events_aggregate_version_idx
			ON events (aggregate_id, version) WHERE version IS NOT NULL;
		CREATE INDEX IF NOT EXISTS events_correlation_idx ON events (correlation_id, timestamp);
		CREATE INDEX IF NOT EXISTS events_aggregate_idx ON events (aggregate_id, timestamp);
		CREATE INDEX IF NOT EXISTS events_user_idx ON events (user_id, timestamp);
		CREATE INDEX IF NOT EXISTS events_type_idx ON events (type);

		-- Deferred intents pending review
		CREATE TABLE IF NOT EXISTS proposals (
			id UUID PRIMARY KEY,
			workspace_id UUID,
			correlation_id UUID NOT NULL,
			target_type VARCHAR(100) NOT NULL,
			target_id VARCHAR(255) NOT NULL,
			request JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			reviewed_by UUID,
			reviewed_at TIMESTAMPTZ,
			rejection_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS proposals_workspace_idx ON proposals (workspace_id, status, created_at);
		CREATE INDEX IF NOT EXISTS proposals_correlation_idx ON proposals (correlation_id);

		-- Workspaces and memberships
		CREATE TABLE IF NOT EXISTS workspaces (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			owner_id UUID NOT NULL,
			settings JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			role VARCHAR(20) NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (workspace_id, user_id)
		);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized")
	return nil
}
