// Package proposals implements the review workflow for deferred intents:
// listing, approval, rejection and manual submission.
package proposals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/events"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"github.com/upb/assistant-backend/services/eventstore"
	"go.uber.org/zap"
)

// Service coordinates proposal review against the event pipeline
type Service struct {
	contract  *events.Contract
	store     *eventstore.Store
	proposals repositories.ProposalRepository
	tx        repositories.TransactionManager
	logger    *zap.Logger
}

// NewService creates the proposal review service
func NewService(
	contract *events.Contract,
	store *eventstore.Store,
	proposals repositories.ProposalRepository,
	tx repositories.TransactionManager,
	logger *zap.Logger,
) *Service {
	return &Service{
		contract:  contract,
		store:     store,
		proposals: proposals,
		tx:        tx,
		logger:    logger,
	}
}

// List returns proposals matching the filter along with the unpaged total
func (s *Service) List(ctx context.Context, filter repositories.ProposalFilter) ([]*models.Proposal, int64, error) {
	items, err := s.proposals.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.proposals.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Get retrieves a single proposal
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	return s.proposals.GetByID(ctx, id)
}

// Approve resumes a deferred intent: it re-emits the validated event with the
// original payload plus approval fields, then marks the proposal validated.
// Emission is deduped per correlation so a retried approval cannot authorize
// an executor twice.
func (s *Service) Approve(ctx context.Context, proposalID, reviewerID uuid.UUID, comment string) error {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != models.ProposalStatusPending {
		return services.ErrProposalReviewed.
			WithDetail("id", proposalID.String()).
			WithDetail("status", string(proposal.Status))
	}

	request, err := proposal.ParseRequest()
	if err != nil {
		return services.WrapInternal("failed to decode proposal request", err)
	}

	reviewedAt := time.Now().UTC()
	terminalType := fmt.Sprintf("%s.%s.%s",
		models.Pluralize(request.TargetType), request.ChangeType, models.StageValidated)

	emitted, err := s.store.HasEmitted(ctx, proposal.CorrelationID, terminalType)
	if err != nil {
		return err
	}

	// The emission and the status transition commit or roll back together: a
	// failed MarkValidated takes the appended event down with it, so a retried
	// approval finds the same pending proposal and no half-authorized event.
	err = s.tx.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if !emitted {
			approval := map[string]interface{}{
				"approvedBy": reviewerID.String(),
				"approvedAt": reviewedAt.Format(time.RFC3339),
			}
			if comment != "" {
				approval["approvalComment"] = comment
			}
			if request.RequestID != "" {
				// Preserve the original request id for end-to-end tracing
				approval["requestId"] = request.RequestID
			}

			data, err := mergeData(request.Data, approval)
			if err != nil {
				return services.WrapInternal("failed to merge approval payload", err)
			}

			opts := []events.Option{
				events.WithCorrelationID(proposal.CorrelationID),
				events.WithSource(models.SourceSystem),
				events.WithRequestID(request.RequestID),
			}
			var userID *uuid.UUID
			if request.Event != nil {
				userID = request.Event.UserID
				id := request.Event.ID
				opts = append(opts, events.WithCausationID(id))
				if request.Event.WorkspaceID != nil {
					opts = append(opts, events.WithWorkspace(*request.Event.WorkspaceID))
				}
				if request.Event.AggregateID != nil {
					opts = append(opts, events.WithAggregate(*request.Event.AggregateID))
				}
			}

			validated, err := s.contract.New(terminalType, data, userID, opts...)
			if err != nil {
				return err
			}
			if _, err := s.store.Append(txCtx, validated); err != nil {
				return err
			}
		}

		return s.proposals.MarkValidated(txCtx, proposalID, reviewerID, reviewedAt)
	})
	if err != nil {
		return err
	}

	s.logger.Info("proposal approved",
		zap.String("proposal_id", proposalID.String()),
		zap.String("reviewed_by", reviewerID.String()),
		zap.String("emitted_type", terminalType))
	return nil
}

// Reject terminates a deferred intent. Rejection is silent: no event is ever
// emitted, so executors never observe the intent.
func (s *Service) Reject(ctx context.Context, proposalID, reviewerID uuid.UUID, reason string) error {
	var rejectionReason *string
	if reason != "" {
		rejectionReason = &reason
	}

	if err := s.proposals.MarkRejected(ctx, proposalID, reviewerID, time.Now().UTC(), rejectionReason); err != nil {
		return err
	}

	s.logger.Info("proposal rejected",
		zap.String("proposal_id", proposalID.String()),
		zap.String("reviewed_by", reviewerID.String()))
	return nil
}

// SubmitParams describes a manual re-injection into the pipeline
type SubmitParams struct {
	TargetType  string
	ChangeType  string
	Data        interface{}
	TargetID    string
	Reasoning   string
	UserID      uuid.UUID
	WorkspaceID *uuid.UUID
}

// SubmitResult reports the pending request handed to the pipeline
type SubmitResult struct {
	RequestID     string    `json:"request_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Status        string    `json:"status"`
}

// Submit builds and appends a fresh requested event for the target, used when
// a caller wants to route a change through the pipeline explicitly.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	if params.TargetType == "" || params.ChangeType == "" {
		return nil, services.ErrInvalidInput.WithDetail("fields", "target_type, change_type")
	}

	requestID := uuid.New().String()
	eventType := fmt.Sprintf("%s.%s.%s",
		models.Pluralize(params.TargetType), params.ChangeType, models.StageRequested)

	metadata := map[string]interface{}{"origin": "proposal_submit"}
	if params.Reasoning != "" {
		metadata["reasoning"] = params.Reasoning
	}
	if params.TargetID != "" {
		metadata["target_id"] = params.TargetID
	}

	userID := params.UserID
	opts := []events.Option{
		events.WithRequestID(requestID),
		events.WithMetadata(metadata),
	}
	if params.WorkspaceID != nil {
		opts = append(opts, events.WithWorkspace(*params.WorkspaceID))
	}

	requested, err := s.contract.New(eventType, params.Data, &userID, opts...)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Append(ctx, requested); err != nil {
		return nil, err
	}

	s.logger.Info("proposal request submitted",
		zap.String("type", eventType),
		zap.String("request_id", requestID))

	return &SubmitResult{
		RequestID:     requestID,
		CorrelationID: requested.CorrelationID,
		Status:        string(models.StageRequested),
	}, nil
}

// mergeData overlays extra keys onto a JSON object payload
func mergeData(data []byte, extra map[string]interface{}) ([]byte, error) {
	payload := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			payload = map[string]interface{}{"data": string(data)}
		}
	}
	for k, v := range extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}
