package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

const eventColumns = `id, type, aggregate_id, aggregate_type, version, data, metadata,
	user_id, workspace_id, source, timestamp, correlation_id, causation_id, request_id`

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// EventRepository implements the repositories.EventRepository interface.
// The events table is append-only; this repository exposes no update or
// delete operations.
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Append persists an event. A versioned append that collides with an existing
// (aggregate, version) row surfaces as a version conflict for the caller to
// re-read and retry.
func (r *EventRepository) Append(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (
			id, type, aggregate_id, aggregate_type, version, data, metadata,
			user_id, workspace_id, source, timestamp, correlation_id, causation_id, request_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.AggregateID,
		nullString(event.AggregateType),
		event.Version,
		[]byte(event.Data),
		nullBytes(event.Metadata),
		event.UserID,
		event.WorkspaceID,
		string(event.Source),
		event.Timestamp,
		event.CorrelationID,
		event.CausationID,
		nullString(event.RequestID),
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return services.ErrVersionConflict.
				WithDetail("event_id", event.ID.String()).
				WithDetail("type", event.Type)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}

	r.logger.Debug("event appended",
		zap.String("id", event.ID.String()),
		zap.String("type", event.Type),
		zap.String("correlation_id", event.CorrelationID.String()))
	return nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns)

	executor := GetExecutor(ctx, r.db)
	event, err := scanEvent(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrEventNotFound.WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// GetByCorrelationID retrieves a workflow's events ordered by timestamp
func (r *EventRepository) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE correlation_id = $1
		ORDER BY timestamp ASC, id ASC
	`, eventColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlated events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Search retrieves events matching the filter with pagination, newest first
func (r *EventRepository) Search(ctx context.Context, filter repositories.EventFilter) ([]*models.Event, error) {
	where, args := buildEventFilter(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM events
		%s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, eventColumns, where, len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Count mirrors Search for pagination totals
func (r *EventRepository) Count(ctx context.Context, filter repositories.EventFilter) (int64, error) {
	where, args := buildEventFilter(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM events %s`, where)

	executor := GetExecutor(ctx, r.db)
	var count int64
	if err := executor.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

// ExistsByCorrelationAndType reports whether the workflow already produced an
// event of the given type
func (r *EventRepository) ExistsByCorrelationAndType(ctx context.Context, correlationID uuid.UUID, eventType string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM events WHERE correlation_id = $1 AND type = $2)`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, correlationID, eventType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for emitted event: %w", err)
	}

	return exists, nil
}

// LatestVersion returns the highest recorded version for an aggregate
func (r *EventRepository) LatestVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`

	executor := GetExecutor(ctx, r.db)
	var version int64
	if err := executor.QueryRowContext(ctx, query, aggregateID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get latest aggregate version: %w", err)
	}

	return version, nil
}

// FindUnresolvedRequested returns requested-stage events older than the cutoff
// whose workflow never progressed: no later-stage event shares the correlation
// and no proposal was filed for it. Ordered oldest first so the longest-stuck
// workflows recover first.
func (r *EventRepository) FindUnresolvedRequested(ctx context.Context, before time.Time, limit int) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events e
		WHERE e.type LIKE '%%.requested'
		  AND e.timestamp <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM events later
			WHERE later.correlation_id = e.correlation_id
			  AND later.type NOT LIKE '%%.requested'
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM proposals p
			WHERE p.correlation_id = e.correlation_id
		  )
		ORDER BY e.timestamp ASC, e.id ASC
		LIMIT $2
	`, eventColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unresolved requested events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// buildEventFilter assembles the WHERE clause and args for Search/Count
func buildEventFilter(filter repositories.EventFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.AggregateID != nil {
		add("aggregate_id = $%d", *filter.AggregateID)
	}
	if filter.AggregateType != "" {
		add("aggregate_type = $%d", filter.AggregateType)
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		event         models.Event
		aggregateID   uuid.NullUUID
		aggregateType sql.NullString
		version       sql.NullInt64
		data          []byte
		metadata      []byte
		userID        uuid.NullUUID
		workspaceID   uuid.NullUUID
		source        string
		causationID   uuid.NullUUID
		requestID     sql.NullString
	)

	err := row.Scan(
		&event.ID,
		&event.Type,
		&aggregateID,
		&aggregateType,
		&version,
		&data,
		&metadata,
		&userID,
		&workspaceID,
		&source,
		&event.Timestamp,
		&event.CorrelationID,
		&causationID,
		&requestID,
	)
	if err != nil {
		return nil, err
	}

	event.Data = data
	event.Metadata = metadata
	event.Source = models.EventSource(source)
	event.AggregateType = aggregateType.String
	event.RequestID = requestID.String
	if aggregateID.Valid {
		event.AggregateID = &aggregateID.UUID
	}
	if version.Valid {
		event.Version = &version.Int64
	}
	if userID.Valid {
		event.UserID = &userID.UUID
	}
	if workspaceID.Valid {
		event.WorkspaceID = &workspaceID.UUID
	}
	if causationID.Valid {
		event.CausationID = &causationID.UUID
	}

	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
