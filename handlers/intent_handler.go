package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/events"
	"github.com/upb/assistant-backend/middleware"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/services/eventstore"
	"github.com/upb/assistant-backend/utils"
	"go.uber.org/zap"
)

// SubmitIntentRequest represents a request to record an intent
type SubmitIntentRequest struct {
	Type        string          `json:"type" validate:"required"`
	Data        json.RawMessage `json:"data"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	WorkspaceID *uuid.UUID      `json:"workspace_id,omitempty"`
	AggregateID *uuid.UUID      `json:"aggregate_id,omitempty"`
	Version     *int64          `json:"version,omitempty"`
	Source      string          `json:"source,omitempty" validate:"omitempty,oneof=api automation sync ai intelligence"`
	RequestID   string          `json:"request_id,omitempty"`
}

// SubmitIntentResponse acknowledges an accepted intent. The outcome
// (validated, denied or proposed) arrives asynchronously.
type SubmitIntentResponse struct {
	EventID       uuid.UUID `json:"event_id"`
	RequestID     string    `json:"request_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Status        string    `json:"status"`
}

// IntentHandler handles intent submission HTTP requests
type IntentHandler struct {
	contract *events.Contract
	store    *eventstore.Store
	logger   *zap.Logger
}

// NewIntentHandler creates a new IntentHandler
func NewIntentHandler(contract *events.Contract, store *eventstore.Store, logger *zap.Logger) *IntentHandler {
	return &IntentHandler{
		contract: contract,
		store:    store,
		logger:   logger,
	}
}

// HandleSubmitIntent handles POST /api/v1/intents
func (h *IntentHandler) HandleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		h.logger.Error("missing user ID in context")
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req SubmitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	parsed, err := models.ParseEventType(req.Type)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Event type must be <aggregate>.<action>.requested", nil)
		return
	}
	if parsed.Stage != models.StageRequested {
		_ = utils.WriteBadRequest(w, "Only requested-stage intents may be submitted", map[string]interface{}{
			"stage": string(parsed.Stage),
		})
		return
	}

	// The client's request id is echoed through every stage transition so a
	// waiting client can match the asynchronous outcome to this call.
	clientRequestID := req.RequestID
	if clientRequestID == "" {
		clientRequestID = uuid.New().String()
	}

	opts := []events.Option{
		events.WithRequestID(clientRequestID),
	}
	if req.Source != "" {
		opts = append(opts, events.WithSource(models.EventSource(req.Source)))
	}
	if req.WorkspaceID != nil {
		opts = append(opts, events.WithWorkspace(*req.WorkspaceID))
	}
	if req.AggregateID != nil {
		opts = append(opts, events.WithAggregate(*req.AggregateID))
	}
	if req.Version != nil {
		opts = append(opts, events.WithVersion(*req.Version))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, events.WithMetadata(json.RawMessage(req.Metadata)))
	}

	event, err := h.contract.New(req.Type, req.Data, &userID, opts...)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if _, err := h.store.Append(ctx, event); err != nil {
		h.logger.Error("failed to record intent",
			zap.String("request_id", requestID),
			zap.String("type", req.Type),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("intent accepted",
		zap.String("request_id", requestID),
		zap.String("type", req.Type),
		zap.String("event_id", event.ID.String()),
		zap.String("correlation_id", event.CorrelationID.String()))

	_ = utils.WriteAccepted(w, SubmitIntentResponse{
		EventID:       event.ID,
		RequestID:     event.RequestID,
		CorrelationID: event.CorrelationID,
		Status:        string(models.StageRequested),
	})
}
