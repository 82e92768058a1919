// Package executors holds the boundary between the pipeline and the handlers
// that perform real mutations. Executors subscribe to validated events and
// emit the matching completed event once the mutation is durable.
package executors

import (
	"context"

	"github.com/upb/assistant-backend/events"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/notify"
	"github.com/upb/assistant-backend/services/bus"
	"github.com/upb/assistant-backend/services/eventstore"
	"go.uber.org/zap"
)

// RecordingExecutor is the reference executor: it acknowledges every
// validated intent by recording the completion event and broadcasting the
// outcome. Aggregate-specific executors performing real mutations register
// alongside it with narrower matchers.
type RecordingExecutor struct {
	contract *events.Contract
	store    *eventstore.Store
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewRecordingExecutor creates the reference executor
func NewRecordingExecutor(
	contract *events.Contract,
	store *eventstore.Store,
	notifier notify.Notifier,
	logger *zap.Logger,
) *RecordingExecutor {
	return &RecordingExecutor{
		contract: contract,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Register subscribes the executor to all validated events
func (e *RecordingExecutor) Register(dispatcher *bus.Dispatcher) {
	dispatcher.Subscribe("recording-executor", bus.MatchStage(models.StageValidated), e.Handle)
}

// Handle emits the completed event for a validated intent. Emission is
// deduped per correlation, so redelivery after a partial failure is safe.
func (e *RecordingExecutor) Handle(ctx context.Context, event *models.Event) error {
	routing, err := event.ParsedType()
	if err != nil {
		// Validated events are produced by the pipeline; a malformed one is a bug
		e.logger.Error("validated event with malformed type",
			zap.String("event_id", event.ID.String()),
			zap.String("type", event.Type))
		return nil
	}

	completedType := routing.WithStage(models.StageCompleted).String()

	emitted, err := e.store.HasEmitted(ctx, event.CorrelationID, completedType)
	if err != nil {
		return err
	}
	if emitted {
		return nil
	}

	opts := []events.Option{
		events.CausedBy(event),
		events.WithSource(models.SourceSystem),
	}
	if event.WorkspaceID != nil {
		opts = append(opts, events.WithWorkspace(*event.WorkspaceID))
	}
	if event.AggregateID != nil {
		opts = append(opts, events.WithAggregate(*event.AggregateID))
	}

	completed, err := e.contract.New(completedType, event.Data, event.UserID, opts...)
	if err != nil {
		return err
	}
	if _, err := e.store.Append(ctx, completed); err != nil {
		return err
	}

	e.logger.Info("intent completed",
		zap.String("type", completedType),
		zap.String("correlation_id", event.CorrelationID.String()))

	if event.UserID != nil {
		notification := notify.Notification{
			Kind:      notify.KindCompleted,
			RequestID: event.RequestID,
			Payload: map[string]interface{}{
				"type":    completedType,
				"eventId": completed.ID.String(),
			},
		}
		if err := e.notifier.NotifyUser(ctx, *event.UserID, notification); err != nil {
			e.logger.Warn("completion broadcast failed",
				zap.String("event_id", completed.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}
