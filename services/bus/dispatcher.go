// Package bus provides the in-process, at-least-once event delivery runtime.
// Producers publish appended events; subscribed handlers consume them on a
// worker pool with bounded retries. Handlers must tolerate redelivery.
package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/upb/assistant-backend/models"
	"go.uber.org/zap"
)

// HandlerFunc processes a delivered event. Returning an error triggers a
// bounded retry; a handler may therefore observe the same event more than once.
type HandlerFunc func(ctx context.Context, event *models.Event) error

// MatchFunc selects which events a subscription receives
type MatchFunc func(event *models.Event) bool

// MatchStage subscribes to every event whose type ends in the given stage
func MatchStage(stage models.EventStage) MatchFunc {
	suffix := "." + string(stage)
	return func(event *models.Event) bool {
		return strings.HasSuffix(event.Type, suffix)
	}
}

// subscription pairs a named handler with its event matcher
type subscription struct {
	name    string
	matches MatchFunc
	handle  HandlerFunc
}

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize   int           // Size of the event buffer channel
	WorkerCount  int           // Number of concurrent workers
	MaxRetries   int           // Bounded retries per handler per event
	RetryBackoff time.Duration // Base delay between retries
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Dispatcher fans appended events out to subscribed handlers asynchronously.
// Publish never blocks the producer; handler failures are retried a bounded
// number of times and then logged as operational failures.
type Dispatcher struct {
	logger       *zap.Logger
	eventChan    chan *models.Event
	workerCount  int
	bufferSize   int
	maxRetries   int
	retryBackoff time.Duration

	subMu sync.RWMutex
	subs  []subscription

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(config Config, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		logger:       logger,
		eventChan:    make(chan *models.Event, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		maxRetries:   config.MaxRetries,
		retryBackoff: config.RetryBackoff,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Subscribe registers a handler for events selected by the matcher.
// Subscriptions are expected to be registered before Start.
func (d *Dispatcher) Subscribe(name string, matches MatchFunc, handle HandlerFunc) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subs = append(d.subs, subscription{name: name, matches: matches, handle: handle})
	d.logger.Debug("handler subscribed", zap.String("handler", name))
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started event dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))

	return nil
}

// Stop gracefully stops the dispatcher, waiting for buffered events to drain
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.mu.Unlock()

	d.logger.Info("stopping event dispatcher", zap.Int("pending_events", len(d.eventChan)))

	close(d.eventChan)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped gracefully")
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		return fmt.Errorf("dispatcher stop timeout after %v", timeout)
	}
}

// Publish queues an event for delivery (non-blocking). A full buffer is an
// explicit error so callers can log the dropped delivery distinctly.
func (d *Dispatcher) Publish(event *models.Event) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.mu.Unlock()

	select {
	case d.eventChan <- event:
		return nil
	default:
		d.logger.Warn("event buffer full, dropping delivery",
			zap.String("event_id", event.ID.String()),
			zap.String("type", event.Type))
		return fmt.Errorf("event buffer full")
	}
}

// worker processes events from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("dispatcher worker started", zap.Int("worker_id", id))

	for event := range d.eventChan {
		d.deliver(event)
	}

	d.logger.Debug("dispatcher worker stopped", zap.Int("worker_id", id))
}

// deliver routes one event to every matching subscription
func (d *Dispatcher) deliver(event *models.Event) {
	d.subMu.RLock()
	subs := d.subs
	d.subMu.RUnlock()

	for _, sub := range subs {
		if !sub.matches(event) {
			continue
		}
		if err := d.handleWithRetry(sub, event); err != nil {
			d.logger.Error("handler failed permanently",
				zap.String("handler", sub.name),
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}
}

// handleWithRetry invokes a handler with bounded retries and backoff
func (d *Dispatcher) handleWithRetry(sub subscription, event *models.Event) error {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.retryBackoff * time.Duration(attempt)):
			case <-d.ctx.Done():
				return d.ctx.Err()
			}
			d.logger.Warn("retrying handler",
				zap.String("handler", sub.name),
				zap.String("event_id", event.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		lastErr = sub.handle(ctx, event)
		cancel()

		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Stats represents dispatcher statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// GetStats returns statistics about the dispatcher
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		BufferSize:    d.bufferSize,
		PendingEvents: len(d.eventChan),
		WorkerCount:   d.workerCount,
		Started:       d.started,
	}
}
