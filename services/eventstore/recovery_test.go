package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/services/bus"
	"go.uber.org/zap"
)

func newRecovery(t *testing.T, started bool, config RecoveryConfig) (*Recovery, *MockEventRepository, *bus.Dispatcher) {
	t.Helper()
	logger := zap.NewNop()
	mockEvents := new(MockEventRepository)
	dispatcher := bus.NewDispatcher(bus.Config{
		BufferSize:   16,
		WorkerCount:  1,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	}, logger)
	if started {
		require.NoError(t, dispatcher.Start())
		t.Cleanup(func() { _ = dispatcher.Stop(time.Second) })
	}
	return NewRecovery(mockEvents, dispatcher, config, logger), mockEvents, dispatcher
}

// subscribeIDs collects the IDs of delivered requested events on a channel
func subscribeIDs(dispatcher *bus.Dispatcher) <-chan uuid.UUID {
	delivered := make(chan uuid.UUID, 16)
	dispatcher.Subscribe("recorder", bus.MatchStage(models.StageRequested),
		func(_ context.Context, event *models.Event) error {
			delivered <- event.ID
			return nil
		})
	return delivered
}

func receiveID(t *testing.T, delivered <-chan uuid.UUID) uuid.UUID {
	t.Helper()
	select {
	case id := <-delivered:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return uuid.Nil
	}
}

func TestSweepOnce_RepublishesStrandedEvents(t *testing.T) {
	recovery, mockEvents, dispatcher := newRecovery(t, true, DefaultRecoveryConfig())
	delivered := subscribeIDs(dispatcher)

	first := eventOwnedBy(uuid.New())
	second := eventOwnedBy(uuid.New())
	mockEvents.On("FindUnresolvedRequested", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*models.Event{first, second}, nil)

	published, err := recovery.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)

	// The stranded events reach subscribers again, oldest first
	assert.Equal(t, first.ID, receiveID(t, delivered))
	assert.Equal(t, second.ID, receiveID(t, delivered))
}

func TestSweepOnce_NothingStranded(t *testing.T) {
	recovery, mockEvents, _ := newRecovery(t, true, DefaultRecoveryConfig())

	mockEvents.On("FindUnresolvedRequested", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*models.Event{}, nil)

	published, err := recovery.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)
}

func TestSweepOnce_PropagatesRepositoryError(t *testing.T) {
	recovery, mockEvents, _ := newRecovery(t, true, DefaultRecoveryConfig())

	mockEvents.On("FindUnresolvedRequested", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return(nil, errors.New("connection refused"))

	_, err := recovery.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestSweepOnce_LeavesBatchForNextSweepWhenPublishFails(t *testing.T) {
	// Dispatcher never started, so every publish fails
	recovery, mockEvents, _ := newRecovery(t, false, DefaultRecoveryConfig())

	mockEvents.On("FindUnresolvedRequested", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*models.Event{eventOwnedBy(uuid.New())}, nil)

	published, err := recovery.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)
}

func TestRecovery_StartSweepsImmediately(t *testing.T) {
	// A long interval pins the test to the startup sweep alone
	recovery, mockEvents, dispatcher := newRecovery(t, true, RecoveryConfig{
		Interval:  time.Hour,
		BatchSize: 10,
	})
	delivered := subscribeIDs(dispatcher)

	stranded := eventOwnedBy(uuid.New())
	mockEvents.On("FindUnresolvedRequested", mock.Anything, mock.AnythingOfType("time.Time"), 10).
		Return([]*models.Event{stranded}, nil)

	recovery.Start()
	defer recovery.Stop()

	assert.Equal(t, stranded.ID, receiveID(t, delivered))
}

func TestRecovery_StopIsIdempotent(t *testing.T) {
	recovery, mockEvents, _ := newRecovery(t, true, RecoveryConfig{
		Interval:  time.Hour,
		BatchSize: 10,
	})
	mockEvents.On("FindUnresolvedRequested", mock.Anything, mock.AnythingOfType("time.Time"), 10).
		Return([]*models.Event{}, nil)

	recovery.Start()
	recovery.Stop()
	recovery.Stop()
}
