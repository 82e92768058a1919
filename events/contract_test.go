package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

func newTestContract(t *testing.T) *Contract {
	t.Helper()
	return NewContract(NewRegistry(), zap.NewNop())
}

func TestContract_New_Defaults(t *testing.T) {
	contract := newTestContract(t)
	userID := uuid.New()

	event, err := contract.New("notes.create.requested", map[string]string{"title": "groceries"}, &userID)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.NotEqual(t, uuid.Nil, event.CorrelationID)
	assert.Equal(t, "notes.create.requested", event.Type)
	assert.Equal(t, models.SourceAPI, event.Source)
	assert.Equal(t, "note", event.AggregateType)
	assert.Equal(t, &userID, event.UserID)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)
	assert.JSONEq(t, `{"title":"groceries"}`, string(event.Data))
}

func TestContract_New_NilDataBecomesEmptyObject(t *testing.T) {
	contract := newTestContract(t)
	userID := uuid.New()

	event, err := contract.New("notes.create.requested", nil, &userID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(event.Data))
}

func TestContract_New_Options(t *testing.T) {
	contract := newTestContract(t)
	userID := uuid.New()
	workspaceID := uuid.New()
	aggregateID := uuid.New()
	correlationID := uuid.New()

	event, err := contract.New("tasks.update.requested", json.RawMessage(`{"done":true}`), &userID,
		WithWorkspace(workspaceID),
		WithAggregate(aggregateID),
		WithVersion(7),
		WithSource(models.SourceIntelligence),
		WithCorrelationID(correlationID),
		WithRequestID("req-123"),
	)
	require.NoError(t, err)

	assert.Equal(t, &workspaceID, event.WorkspaceID)
	assert.Equal(t, &aggregateID, event.AggregateID)
	require.NotNil(t, event.Version)
	assert.Equal(t, int64(7), *event.Version)
	assert.Equal(t, models.SourceIntelligence, event.Source)
	assert.Equal(t, correlationID, event.CorrelationID)
	assert.Equal(t, "req-123", event.RequestID)
}

func TestContract_CausedBy(t *testing.T) {
	contract := newTestContract(t)
	userID := uuid.New()

	parent, err := contract.New("notes.create.requested", nil, &userID,
		WithRequestID("req-original"))
	require.NoError(t, err)

	child, err := contract.New("notes.create.validated", parent.Data, parent.UserID,
		CausedBy(parent))
	require.NoError(t, err)

	assert.Equal(t, parent.CorrelationID, child.CorrelationID)
	require.NotNil(t, child.CausationID)
	assert.Equal(t, parent.ID, *child.CausationID)
	assert.Equal(t, "req-original", child.RequestID)
	assert.NotEqual(t, parent.ID, child.ID)
}

func TestParse_RoundTrip(t *testing.T) {
	contract := newTestContract(t)
	userID := uuid.New()
	workspaceID := uuid.New()

	original, err := contract.New("tasks.create.requested", map[string]string{"title": "write tests"}, &userID,
		WithWorkspace(workspaceID),
		WithRequestID("req-rt"))
	require.NoError(t, err)

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, original.ID, parsed.ID)
	assert.Equal(t, original.Type, parsed.Type)
	assert.Equal(t, original.CorrelationID, parsed.CorrelationID)
	assert.Equal(t, original.UserID, parsed.UserID)
	assert.Equal(t, original.WorkspaceID, parsed.WorkspaceID)
	assert.Equal(t, original.RequestID, parsed.RequestID)
	assert.JSONEq(t, string(original.Data), string(parsed.Data))
	assert.WithinDuration(t, original.Timestamp, parsed.Timestamp, time.Millisecond)
}

func TestParse_MalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `this is not json`},
		{"missing id", `{"type":"notes.create.requested","timestamp":"2026-01-02T15:04:05Z"}`},
		{"missing type", fmt.Sprintf(`{"id":"%s","timestamp":"2026-01-02T15:04:05Z"}`, uuid.New())},
		{"missing timestamp", fmt.Sprintf(`{"id":"%s","type":"notes.create.requested"}`, uuid.New())},
		{"bad uuid", `{"id":"nope","type":"notes.create.requested","timestamp":"2026-01-02T15:04:05Z"}`},
		{"bad timestamp", fmt.Sprintf(`{"id":"%s","type":"notes.create.requested","timestamp":"yesterday"}`, uuid.New())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, services.IsMalformedEventError(err), "expected malformed event error, got %v", err)
		})
	}
}

func TestParse_EpochTimestamps(t *testing.T) {
	id := uuid.New()
	ref := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	t.Run("epoch milliseconds", func(t *testing.T) {
		raw := fmt.Sprintf(`{"id":"%s","type":"notes.create.requested","timestamp":%d}`, id, ref.UnixMilli())
		parsed, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.True(t, parsed.Timestamp.Equal(ref))
	})

	t.Run("epoch seconds", func(t *testing.T) {
		raw := fmt.Sprintf(`{"id":"%s","type":"notes.create.requested","timestamp":%d}`, id, ref.Unix())
		parsed, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.True(t, parsed.Timestamp.Equal(ref))
	})
}

func TestParse_MissingCorrelationDefaultsToEventID(t *testing.T) {
	id := uuid.New()
	raw := fmt.Sprintf(`{"id":"%s","type":"notes.create.requested","timestamp":"2026-01-02T15:04:05Z"}`, id)

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, id, parsed.CorrelationID)
}

func TestRegistry_Validate(t *testing.T) {
	type notePayload struct {
		Title string `json:"title" validate:"required"`
	}

	registry := NewRegistry()
	require.NoError(t, registry.Register("notes.create.requested", notePayload{}))

	t.Run("unknown type", func(t *testing.T) {
		err := registry.Validate("tasks.create.requested", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("valid payload", func(t *testing.T) {
		err := registry.Validate("notes.create.requested", json.RawMessage(`{"title":"hello"}`))
		assert.NoError(t, err)
	})

	t.Run("invalid payload", func(t *testing.T) {
		err := registry.Validate("notes.create.requested", json.RawMessage(`{}`))
		assert.Error(t, err)
	})
}

func TestContract_New_SchemaMismatchDoesNotFail(t *testing.T) {
	type notePayload struct {
		Title string `json:"title" validate:"required"`
	}

	registry := NewRegistry()
	require.NoError(t, registry.Register("notes.create.requested", notePayload{}))
	contract := NewContract(registry, zap.NewNop())
	userID := uuid.New()

	// Payload fails the registered schema; construction still succeeds
	event, err := contract.New("notes.create.requested", map[string]string{"body": "no title"}, &userID)
	require.NoError(t, err)
	assert.NotNil(t, event)
}
