package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/models"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		BufferSize:   64,
		WorkerCount:  2,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func testEvent(eventType string) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New(),
	}
}

// recorder collects delivered events behind a lock
type recorder struct {
	mu       sync.Mutex
	events   []*models.Event
	expected int
	done     chan struct{}
}

func newRecorder(expected int) *recorder {
	r := &recorder{expected: expected, done: make(chan struct{})}
	if expected == 0 {
		close(r.done)
	}
	return r
}

func (r *recorder) handle(ctx context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) == r.expected {
		close(r.done)
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}

func (r *recorder) received() []*models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestMatchStage(t *testing.T) {
	match := MatchStage(models.StageRequested)

	assert.True(t, match(testEvent("notes.create.requested")))
	assert.False(t, match(testEvent("notes.create.validated")))
	assert.False(t, match(testEvent("notes.create.denied")))
}

func TestDispatcher_DeliversToMatchingSubscribers(t *testing.T) {
	logger := zap.NewNop()
	d := NewDispatcher(testConfig(), logger)

	requested := newRecorder(1)
	validated := newRecorder(1)
	d.Subscribe("requested-handler", MatchStage(models.StageRequested), requested.handle)
	d.Subscribe("validated-handler", MatchStage(models.StageValidated), validated.handle)

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop(time.Second) }()

	reqEvent := testEvent("notes.create.requested")
	valEvent := testEvent("notes.create.validated")
	require.NoError(t, d.Publish(reqEvent))
	require.NoError(t, d.Publish(valEvent))

	requested.wait(t)
	validated.wait(t)

	require.Len(t, requested.received(), 1)
	assert.Equal(t, reqEvent.ID, requested.received()[0].ID)
	require.Len(t, validated.received(), 1)
	assert.Equal(t, valEvent.ID, validated.received()[0].ID)
}

func TestDispatcher_RetriesFailedHandler(t *testing.T) {
	logger := zap.NewNop()
	d := NewDispatcher(testConfig(), logger)

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	d.Subscribe("flaky", MatchStage(models.StageRequested), func(ctx context.Context, event *models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		close(done)
		return nil
	})

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop(time.Second) }()

	require.NoError(t, d.Publish(testEvent("notes.create.requested")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestDispatcher_BoundedRetriesGiveUp(t *testing.T) {
	logger := zap.NewNop()
	cfg := testConfig()
	cfg.MaxRetries = 2
	d := NewDispatcher(cfg, logger)

	var mu sync.Mutex
	attempts := 0
	d.Subscribe("always-failing", MatchStage(models.StageRequested), func(ctx context.Context, event *models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("permanent failure")
	})

	require.NoError(t, d.Start())
	require.NoError(t, d.Publish(testEvent("notes.create.requested")))
	require.NoError(t, d.Stop(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	// Initial attempt plus MaxRetries retries
	assert.Equal(t, 3, attempts)
}

func TestDispatcher_PublishBeforeStartFails(t *testing.T) {
	d := NewDispatcher(testConfig(), zap.NewNop())
	err := d.Publish(testEvent("notes.create.requested"))
	assert.Error(t, err)
}

func TestDispatcher_DoubleStartFails(t *testing.T) {
	d := NewDispatcher(testConfig(), zap.NewNop())
	require.NoError(t, d.Start())
	defer func() { _ = d.Stop(time.Second) }()

	assert.Error(t, d.Start())
}

func TestDispatcher_StopDrainsBufferedEvents(t *testing.T) {
	logger := zap.NewNop()
	d := NewDispatcher(testConfig(), logger)

	rec := newRecorder(10)
	d.Subscribe("drain", MatchStage(models.StageRequested), rec.handle)

	require.NoError(t, d.Start())
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Publish(testEvent("notes.create.requested")))
	}
	require.NoError(t, d.Stop(2*time.Second))

	assert.Len(t, rec.received(), 10)
}

func TestDispatcher_GetStats(t *testing.T) {
	d := NewDispatcher(testConfig(), zap.NewNop())

	stats := d.GetStats()
	assert.False(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop(time.Second) }()

	stats = d.GetStats()
	assert.True(t, stats.Started)
}
