package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return &DB{DB: raw, logger: zap.NewNop()}, mock
}

func eventRows(event *models.Event) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "type", "aggregate_id", "aggregate_type", "version", "data", "metadata",
		"user_id", "workspace_id", "source", "timestamp", "correlation_id", "causation_id", "request_id",
	})
	return rows.AddRow(
		event.ID, event.Type, event.AggregateID, event.AggregateType, event.Version,
		[]byte(event.Data), []byte(event.Metadata), event.UserID, event.WorkspaceID,
		string(event.Source), event.Timestamp, event.CorrelationID, event.CausationID, event.RequestID,
	)
}

func storedEvent() *models.Event {
	aggregateID := uuid.New()
	userID := uuid.New()
	version := int64(3)
	return &models.Event{
		ID:            uuid.New(),
		Type:          "notes.update.requested",
		AggregateID:   &aggregateID,
		AggregateType: "note",
		Version:       &version,
		Data:          json.RawMessage(`{"title":"groceries"}`),
		UserID:        &userID,
		Source:        models.SourceAPI,
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		CorrelationID: uuid.New(),
		RequestID:     "req-77",
	}
}

func TestEventRepository_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := storedEvent()

	mock.ExpectExec("INSERT INTO events").
		WithArgs(
			event.ID, event.Type, event.AggregateID, sqlmock.AnyArg(), event.Version,
			[]byte(event.Data), sqlmock.AnyArg(), event.UserID, event.WorkspaceID,
			string(event.Source), event.Timestamp, event.CorrelationID, event.CausationID, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_AppendVersionCollision(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := storedEvent()

	mock.ExpectExec("INSERT INTO events").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "events_aggregate_version_idx"})

	err := repo.Append(context.Background(), event)
	require.Error(t, err)
	assert.True(t, services.IsVersionConflictError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := storedEvent()

	mock.ExpectQuery("SELECT (.+) FROM events WHERE id").
		WithArgs(event.ID).
		WillReturnRows(eventRows(event))

	got, err := repo.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Type, got.Type)
	assert.Equal(t, event.AggregateID, got.AggregateID)
	assert.Equal(t, "note", got.AggregateType)
	require.NotNil(t, got.Version)
	assert.Equal(t, int64(3), *got.Version)
	assert.JSONEq(t, `{"title":"groceries"}`, string(got.Data))
	assert.Equal(t, event.CorrelationID, got.CorrelationID)
	assert.Equal(t, "req-77", got.RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM events WHERE id").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestEventRepository_GetByCorrelationID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	first := storedEvent()
	second := storedEvent()
	second.Type = "notes.update.validated"
	second.CorrelationID = first.CorrelationID

	rows := eventRows(first)
	rows.AddRow(
		second.ID, second.Type, second.AggregateID, second.AggregateType, second.Version,
		[]byte(second.Data), []byte(second.Metadata), second.UserID, second.WorkspaceID,
		string(second.Source), second.Timestamp, second.CorrelationID, second.CausationID, second.RequestID,
	)

	mock.ExpectQuery("SELECT (.+) FROM events\\s+WHERE correlation_id").
		WithArgs(first.CorrelationID).
		WillReturnRows(rows)

	got, err := repo.GetByCorrelationID(context.Background(), first.CorrelationID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "notes.update.requested", got[0].Type)
	assert.Equal(t, "notes.update.validated", got[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_SearchAppliesFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := storedEvent()
	userID := *event.UserID

	mock.ExpectQuery("SELECT (.+) FROM events\\s+WHERE user_id = \\$1 AND type = \\$2").
		WithArgs(userID, event.Type, 25, 0).
		WillReturnRows(eventRows(event))

	got, err := repo.Search(context.Background(), repositories.EventFilter{
		UserID: &userID,
		Type:   event.Type,
		Limit:  25,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_SearchDefaultsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT (.+) FROM events").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "aggregate_id", "aggregate_type", "version", "data", "metadata",
			"user_id", "workspace_id", "source", "timestamp", "correlation_id", "causation_id", "request_id",
		}))

	got, err := repo.Search(context.Background(), repositories.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_Count(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM events").
		WithArgs("notes.create.requested").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.Count(context.Background(), repositories.EventFilter{Type: "notes.create.requested"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
}

func TestEventRepository_ExistsByCorrelationAndType(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	correlationID := uuid.New()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(correlationID, "notes.create.validated").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByCorrelationAndType(context.Background(), correlationID, "notes.create.validated")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEventRepository_LatestVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	aggregateID := uuid.New()

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(version\\), 0\\) FROM events").
		WithArgs(aggregateID).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(7))

	version, err := repo.LatestVersion(context.Background(), aggregateID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), version)
}

func TestEventRepository_FindUnresolvedRequested(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := storedEvent()
	before := time.Now().UTC().Add(-time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM events e\\s+WHERE e.type LIKE").
		WithArgs(before, 100).
		WillReturnRows(eventRows(event))

	got, err := repo.FindUnresolvedRequested(context.Background(), before, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
