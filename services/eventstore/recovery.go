package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services/bus"
	"go.uber.org/zap"
)

// RecoveryConfig holds the recovery sweep configuration
type RecoveryConfig struct {
	// Interval between sweeps; also the minimum age before an appended event
	// is considered stranded rather than still in flight
	Interval time.Duration
	// BatchSize bounds how many stranded events one sweep republishes
	BatchSize int
}

// DefaultRecoveryConfig returns the default recovery sweep configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// Recovery republishes requested-stage events whose in-process delivery was
// lost to a publish failure or a crash between append and handling. Appends
// are durable before fan-out, so a sweep that re-reads the store and
// republishes anything still unresolved restores at-least-once delivery; the
// handlers' per-correlation dedupe makes the extra deliveries harmless.
type Recovery struct {
	events     repositories.EventRepository
	dispatcher *bus.Dispatcher
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewRecovery creates a recovery sweep over the event store
func NewRecovery(events repositories.EventRepository, dispatcher *bus.Dispatcher, config RecoveryConfig, logger *zap.Logger) *Recovery {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Recovery{
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   config.Interval,
		batchSize:  config.BatchSize,
	}
}

// SweepOnce republishes one batch of stranded requested events. It returns
// how many events were handed back to the dispatcher.
func (r *Recovery) SweepOnce(ctx context.Context) (int, error) {
	before := time.Now().UTC().Add(-r.interval)

	stranded, err := r.events.FindUnresolvedRequested(ctx, before, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range stranded {
		if err := r.dispatcher.Publish(event); err != nil {
			// The buffer is full or the dispatcher is down; the rest of the
			// batch would fail the same way, so leave it for the next sweep
			r.logger.Warn("recovery republish failed",
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type),
				zap.Error(err))
			break
		}
		published++
	}

	if published > 0 {
		r.logger.Info("republished stranded events", zap.Int("count", published))
	}
	return published, nil
}

// Start launches the periodic sweep. The first sweep runs immediately so
// events stranded by a previous process are recovered at startup.
func (r *Recovery) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx)

	r.logger.Info("recovery sweep started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize))
}

func (r *Recovery) run(ctx context.Context) {
	defer close(r.done)

	if _, err := r.SweepOnce(ctx); err != nil {
		r.logger.Error("recovery sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				r.logger.Error("recovery sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop halts the periodic sweep and waits for an in-flight sweep to finish
func (r *Recovery) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}

	r.cancel()
	<-r.done
	r.cancel = nil

	r.logger.Info("recovery sweep stopped")
}
