// Package eventstore layers the append-side-effect and multi-tenant query
// rules over the raw event repository.
package eventstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"github.com/upb/assistant-backend/services/bus"
	"go.uber.org/zap"
)

// Identity is the caller on whose behalf a query runs. System identities
// (background handlers, administrative tooling) bypass tenant isolation.
type Identity struct {
	UserID uuid.UUID
	System bool
}

// SystemIdentity is the identity used by background pipeline components
var SystemIdentity = Identity{System: true}

// Store is the event store service: durable append plus fan-out to live
// subscribers, and tenant-scoped queries for audit and tracing.
type Store struct {
	events     repositories.EventRepository
	dispatcher *bus.Dispatcher
	logger     *zap.Logger
}

// NewStore creates an event store service
func NewStore(events repositories.EventRepository, dispatcher *bus.Dispatcher, logger *zap.Logger) *Store {
	return &Store{
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Append durably persists the event, then hands it to live subscribers.
// The fan-out is best-effort: a publish failure is logged but never undoes
// or masks the successful append.
func (s *Store) Append(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.Type == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "type")
	}

	if err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}

	if err := s.dispatcher.Publish(event); err != nil {
		s.logger.Error("appended event not delivered to subscribers",
			zap.String("event_id", event.ID.String()),
			zap.String("type", event.Type),
			zap.Error(err))
	}

	return event, nil
}

// GetByID retrieves an event visible to the identity. Events owned by other
// users are reported as not found rather than forbidden.
func (s *Store) GetByID(ctx context.Context, identity Identity, id uuid.UUID) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !identity.System && event.UserID != nil && *event.UserID != identity.UserID {
		return nil, services.ErrEventNotFound.WithDetail("id", id.String())
	}

	return event, nil
}

// Trace returns a workflow's events ordered by timestamp. Non-system callers
// only see the events they own.
func (s *Store) Trace(ctx context.Context, identity Identity, correlationID uuid.UUID) ([]*models.Event, error) {
	events, err := s.events.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if identity.System {
		return events, nil
	}

	visible := events[:0]
	for _, event := range events {
		if event.UserID == nil || *event.UserID == identity.UserID {
			visible = append(visible, event)
		}
	}
	return visible, nil
}

// Search retrieves events matching the filter. Non-system identities are
// pinned to their own events regardless of the filter they supply.
func (s *Store) Search(ctx context.Context, identity Identity, filter repositories.EventFilter) ([]*models.Event, error) {
	if !identity.System {
		userID := identity.UserID
		filter.UserID = &userID
	}
	return s.events.Search(ctx, filter)
}

// Count mirrors Search for pagination totals
func (s *Store) Count(ctx context.Context, identity Identity, filter repositories.EventFilter) (int64, error) {
	if !identity.System {
		userID := identity.UserID
		filter.UserID = &userID
	}
	return s.events.Count(ctx, filter)
}

// HasEmitted reports whether the workflow already produced an event of the
// given type; pipeline handlers use it to dedupe redelivery
func (s *Store) HasEmitted(ctx context.Context, correlationID uuid.UUID, eventType string) (bool, error) {
	return s.events.ExistsByCorrelationAndType(ctx, correlationID, eventType)
}

// LatestVersion returns the highest version recorded for an aggregate, or 0
// when the aggregate has no versioned events. Callers that lost a version
// race re-read through this before retrying their intent.
func (s *Store) LatestVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	return s.events.LatestVersion(ctx, aggregateID)
}
