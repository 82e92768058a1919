package executors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/events"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/notify"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services/bus"
	"github.com/upb/assistant-backend/services/eventstore"
	"go.uber.org/zap"
)

// MockEventRepository is a mock implementation of EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Append(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	args := m.Called(ctx, id)
	if event := args.Get(0); event != nil {
		return event.(*models.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEventRepository) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.Event, error) {
	args := m.Called(ctx, correlationID)
	if events := args.Get(0); events != nil {
		return events.([]*models.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEventRepository) Search(ctx context.Context, filter repositories.EventFilter) ([]*models.Event, error) {
	args := m.Called(ctx, filter)
	if events := args.Get(0); events != nil {
		return events.([]*models.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEventRepository) Count(ctx context.Context, filter repositories.EventFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventRepository) ExistsByCorrelationAndType(ctx context.Context, correlationID uuid.UUID, eventType string) (bool, error) {
	args := m.Called(ctx, correlationID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventRepository) LatestVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	args := m.Called(ctx, aggregateID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventRepository) FindUnresolvedRequested(ctx context.Context, before time.Time, limit int) ([]*models.Event, error) {
	args := m.Called(ctx, before, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func newExecutorFixture(t *testing.T) (*RecordingExecutor, *MockEventRepository, *notify.ChannelNotifier) {
	t.Helper()
	logger := zap.NewNop()
	mockEvents := new(MockEventRepository)
	notifier := notify.NewChannelNotifier(4)

	contract := events.NewContract(events.NewRegistry(), logger)
	dispatcher := bus.NewDispatcher(bus.DefaultConfig(), logger)
	store := eventstore.NewStore(mockEvents, dispatcher, logger)

	return NewRecordingExecutor(contract, store, notifier, logger), mockEvents, notifier
}

func validatedEvent(userID uuid.UUID) *models.Event {
	aggregateID := uuid.New()
	return &models.Event{
		ID:            uuid.New(),
		Type:          "tasks.create.validated",
		AggregateID:   &aggregateID,
		Data:          json.RawMessage(`{"title":"file taxes"}`),
		UserID:        &userID,
		Source:        models.SourceSystem,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New(),
		RequestID:     "req-exec",
	}
}

func TestRecordingExecutor_EmitsCompletedEvent(t *testing.T) {
	executor, mockEvents, notifier := newExecutorFixture(t)
	userID := uuid.New()
	event := validatedEvent(userID)

	mockEvents.On("ExistsByCorrelationAndType", mock.Anything, event.CorrelationID, "tasks.create.completed").
		Return(false, nil)

	var appended *models.Event
	mockEvents.On("Append", mock.Anything, mock.AnythingOfType("*models.Event")).
		Run(func(args mock.Arguments) { appended = args.Get(1).(*models.Event) }).
		Return(nil)

	require.NoError(t, executor.Handle(context.Background(), event))

	require.NotNil(t, appended)
	assert.Equal(t, "tasks.create.completed", appended.Type)
	assert.Equal(t, event.CorrelationID, appended.CorrelationID)
	require.NotNil(t, appended.CausationID)
	assert.Equal(t, event.ID, *appended.CausationID)
	assert.Equal(t, event.AggregateID, appended.AggregateID)
	assert.Equal(t, "req-exec", appended.RequestID)

	select {
	case delivered := <-notifier.C():
		assert.Equal(t, userID, delivered.UserID)
		assert.Equal(t, notify.KindCompleted, delivered.Notification.Kind)
		assert.Equal(t, "req-exec", delivered.Notification.RequestID)
	default:
		t.Fatal("expected a completion notification")
	}
}

func TestRecordingExecutor_RedeliveryIsIdempotent(t *testing.T) {
	executor, mockEvents, _ := newExecutorFixture(t)
	event := validatedEvent(uuid.New())

	mockEvents.On("ExistsByCorrelationAndType", mock.Anything, event.CorrelationID, "tasks.create.completed").
		Return(true, nil)

	require.NoError(t, executor.Handle(context.Background(), event))
	mockEvents.AssertNotCalled(t, "Append")
}

func TestRecordingExecutor_MalformedTypeIsDropped(t *testing.T) {
	executor, mockEvents, _ := newExecutorFixture(t)
	event := validatedEvent(uuid.New())
	event.Type = "not-an-event-type"

	require.NoError(t, executor.Handle(context.Background(), event))
	mockEvents.AssertNotCalled(t, "Append")
	mockEvents.AssertNotCalled(t, "ExistsByCorrelationAndType")
}
