// Package validator implements the global policy engine that turns every
// requested intent into exactly one of: a validated event, a denied event,
// or a pending proposal.
package validator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/events"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/notify"
	"github.com/upb/assistant-backend/permissions"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"github.com/upb/assistant-backend/services/bus"
	"github.com/upb/assistant-backend/services/eventstore"
	"go.uber.org/zap"
)

// Outcome is the business decision for a requested intent
type Outcome string

const (
	OutcomeValidated Outcome = "validated"
	OutcomeDenied    Outcome = "denied"
	OutcomeProposed  Outcome = "proposed"
)

// Denial reasons shared with tests and handlers
const (
	ReasonMalformedType    = "malformed event type"
	ReasonNoUserContext    = "no user context"
	ReasonResolverFailure  = "permission resolution failed"
	ReasonAIRequiresReview = "AI proposal requires review"
)

// Decision is the outcome of the pure decision step. Routing carries the
// parsed aggregate/action when the event name was well-formed.
type Decision struct {
	Outcome   Outcome
	Reason    string
	Routing   models.EventType
	HasRoute  bool
	Role      models.Role
}

// Service consumes every *.requested event and applies the permission and
// policy checks. The decision step performs only reads, so the whole handler
// is safe to re-run under at-least-once delivery; the terminal emission and
// proposal insert are deduped per (correlation id, type).
type Service struct {
	contract   *events.Contract
	store      *eventstore.Store
	proposals  repositories.ProposalRepository
	workspaces repositories.WorkspaceRepository
	resolver   permissions.Resolver
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewService creates the global validator
func NewService(
	contract *events.Contract,
	store *eventstore.Store,
	proposals repositories.ProposalRepository,
	workspaces repositories.WorkspaceRepository,
	resolver permissions.Resolver,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		contract:   contract,
		store:      store,
		proposals:  proposals,
		workspaces: workspaces,
		resolver:   resolver,
		notifier:   notifier,
		logger:     logger,
	}
}

// Register subscribes the validator to all requested events
func (s *Service) Register(dispatcher *bus.Dispatcher) {
	dispatcher.Subscribe("global-validator", bus.MatchStage(models.StageRequested), s.Handle)
}

// Decide computes the business outcome for a requested event. It reads the
// permission resolver and workspace settings but never writes; callers may
// re-invoke it freely.
func (s *Service) Decide(ctx context.Context, event *models.Event) (Decision, error) {
	routing, err := event.ParsedType()
	if err != nil || routing.Stage != models.StageRequested {
		return Decision{Outcome: OutcomeDenied, Reason: ReasonMalformedType}, nil
	}

	// A proposal must always be attributable for later approval, so an
	// unattributed request is denied outright rather than deferred.
	if event.UserID == nil {
		return Decision{Outcome: OutcomeDenied, Reason: ReasonNoUserContext, Routing: routing, HasRoute: true}, nil
	}

	capability := permissions.ForAction(routing.Aggregate, routing.Action)
	decision, err := s.resolver.VerifyPermission(ctx, *event.UserID, event.WorkspaceID, nil, capability)
	if err != nil {
		// Fail closed: a broken resolver denies rather than defers
		s.logger.Error("permission resolution failed, denying request",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
		return Decision{Outcome: OutcomeDenied, Reason: ReasonResolverFailure, Routing: routing, HasRoute: true}, nil
	}
	if !decision.Allowed {
		return Decision{
			Outcome:  OutcomeDenied,
			Reason:   decision.Reason,
			Routing:  routing,
			HasRoute: true,
			Role:     decision.Role,
		}, nil
	}

	if event.IsAIOriginated() && !s.aiAutoApproved(ctx, event.WorkspaceID) {
		return Decision{
			Outcome:  OutcomeProposed,
			Reason:   ReasonAIRequiresReview,
			Routing:  routing,
			HasRoute: true,
			Role:     decision.Role,
		}, nil
	}

	return Decision{Outcome: OutcomeValidated, Routing: routing, HasRoute: true, Role: decision.Role}, nil
}

// aiAutoApproved reads the target workspace's auto-approval setting.
// Requests without a workspace, or whose workspace cannot be read, are not
// auto-approved.
func (s *Service) aiAutoApproved(ctx context.Context, workspaceID *uuid.UUID) bool {
	if workspaceID == nil {
		return false
	}
	workspace, err := s.workspaces.GetByID(ctx, *workspaceID)
	if err != nil {
		s.logger.Warn("workspace settings unavailable, deferring AI request",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		return false
	}
	return workspace.Settings.AIAutoApprove
}

// Handle processes one requested event end to end. Infrastructure errors are
// returned so the dispatcher retries; business outcomes never are.
func (s *Service) Handle(ctx context.Context, event *models.Event) error {
	decision, err := s.Decide(ctx, event)
	if err != nil {
		return err
	}

	switch decision.Outcome {
	case OutcomeValidated:
		return s.emitValidated(ctx, event, decision)
	case OutcomeDenied:
		return s.emitDenied(ctx, event, decision)
	case OutcomeProposed:
		return s.createProposal(ctx, event, decision)
	default:
		return services.ErrInternal.WithDetail("outcome", string(decision.Outcome))
	}
}

// emitValidated appends the terminal validated event with the original data
// and acting user unchanged. This is the only transition that authorizes an
// executor to act.
func (s *Service) emitValidated(ctx context.Context, event *models.Event, decision Decision) error {
	terminalType := decision.Routing.WithStage(models.StageValidated).String()

	emitted, err := s.store.HasEmitted(ctx, event.CorrelationID, terminalType)
	if err != nil {
		return err
	}
	if emitted {
		s.logger.Debug("validated event already emitted, skipping",
			zap.String("correlation_id", event.CorrelationID.String()))
		return nil
	}

	validated, err := s.contract.New(terminalType, event.Data, event.UserID,
		events.CausedBy(event),
		events.WithSource(models.SourceSystem),
		workspaceOption(event),
		aggregateOption(event),
	)
	if err != nil {
		return err
	}

	if _, err := s.store.Append(ctx, validated); err != nil {
		if services.IsVersionConflictError(err) {
			// Another delivery won the race; the terminal event exists
			return nil
		}
		return err
	}

	s.logger.Info("request validated",
		zap.String("type", event.Type),
		zap.String("correlation_id", event.CorrelationID.String()))
	return nil
}

// emitDenied appends the terminal denied event carrying the denial reason.
// When the event name was too malformed to rebuild a routing key, the denial
// is recorded in the log and broadcast only.
func (s *Service) emitDenied(ctx context.Context, event *models.Event, decision Decision) error {
	s.logger.Info("request denied",
		zap.String("type", event.Type),
		zap.String("reason", decision.Reason),
		zap.String("correlation_id", event.CorrelationID.String()))

	if decision.HasRoute {
		terminalType := decision.Routing.WithStage(models.StageDenied).String()

		emitted, err := s.store.HasEmitted(ctx, event.CorrelationID, terminalType)
		if err != nil {
			return err
		}
		if !emitted {
			data, err := mergeData(event.Data, map[string]interface{}{
				"denialReason": decision.Reason,
			})
			if err != nil {
				return err
			}

			denied, err := s.contract.New(terminalType, data, event.UserID,
				events.CausedBy(event),
				events.WithSource(models.SourceSystem),
				workspaceOption(event),
				aggregateOption(event),
			)
			if err != nil {
				return err
			}
			if _, err := s.store.Append(ctx, denied); err != nil {
				return err
			}
		}
	}

	s.notifyUser(ctx, event, notify.Notification{
		Kind:      notify.KindDenied,
		RequestID: event.RequestID,
		Payload: map[string]interface{}{
			"type":   event.Type,
			"reason": decision.Reason,
		},
	})
	return nil
}

// createProposal defers the request into a pending proposal for human review
func (s *Service) createProposal(ctx context.Context, event *models.Event, decision Decision) error {
	pending, err := s.proposals.HasPendingForCorrelation(ctx, event.CorrelationID)
	if err != nil {
		return err
	}
	if pending {
		s.logger.Debug("proposal already pending, skipping",
			zap.String("correlation_id", event.CorrelationID.String()))
		return nil
	}

	targetID := event.TargetID()
	if targetID == "" {
		targetID = uuid.New().String()
	}

	request := &models.ProposalRequest{
		Event:      event,
		TargetType: decision.Routing.TargetType(),
		ChangeType: decision.Routing.Action,
		Data:       event.Data,
		RequestID:  event.RequestID,
		Reasoning:  decision.Reason,
	}

	proposal, err := models.NewProposal(event.WorkspaceID, event.CorrelationID,
		request.TargetType, targetID, request)
	if err != nil {
		return services.WrapInternal("failed to serialize proposal request", err)
	}

	if err := s.proposals.Insert(ctx, proposal); err != nil {
		return err
	}

	s.logger.Info("proposal created",
		zap.String("proposal_id", proposal.ID.String()),
		zap.String("target_type", proposal.TargetType),
		zap.String("correlation_id", event.CorrelationID.String()))

	s.notifyUser(ctx, event, notify.Notification{
		Kind:      notify.KindProposalCreated,
		RequestID: event.RequestID,
		Payload: map[string]interface{}{
			"proposalId": proposal.ID.String(),
			"status":     string(models.ProposalStatusPending),
		},
	})
	return nil
}

// notifyUser broadcasts an outcome best-effort; failures never affect the
// pipeline state transition
func (s *Service) notifyUser(ctx context.Context, event *models.Event, notification notify.Notification) {
	if event.UserID == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, *event.UserID, notification); err != nil {
		s.logger.Warn("outcome broadcast failed",
			zap.String("event_id", event.ID.String()),
			zap.String("kind", string(notification.Kind)),
			zap.Error(err))
	}
}

func workspaceOption(event *models.Event) events.Option {
	if event.WorkspaceID != nil {
		return events.WithWorkspace(*event.WorkspaceID)
	}
	return func(*models.Event) {}
}

func aggregateOption(event *models.Event) events.Option {
	if event.AggregateID != nil {
		return events.WithAggregate(*event.AggregateID)
	}
	return func(*models.Event) {}
}

// mergeData overlays extra keys onto a JSON object payload
func mergeData(data json.RawMessage, extra map[string]interface{}) (json.RawMessage, error) {
	payload := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			// Non-object payloads are preserved under a data key
			payload = map[string]interface{}{"data": json.RawMessage(data)}
		}
	}
	for k, v := range extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}
