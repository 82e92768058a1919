package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/assistant-backend/middleware"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services/eventstore"
	"github.com/upb/assistant-backend/utils"
	"go.uber.org/zap"
)

// EventHandler handles event query HTTP requests. Events are read-only over
// HTTP; writes only happen through intent submission.
type EventHandler struct {
	store  *eventstore.Store
	logger *zap.Logger
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(store *eventstore.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		store:  store,
		logger: logger,
	}
}

// HandleSearchEvents handles GET /api/v1/events
func (h *EventHandler) HandleSearchEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}
	identity := eventstore.Identity{UserID: userID}

	filter, err := parseEventFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	events, err := h.store.Search(ctx, identity, filter)
	if err != nil {
		h.logger.Error("failed to search events",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	total, err := h.store.Count(ctx, identity, filter)
	if err != nil {
		h.logger.Error("failed to count events",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteList(w, events, total)
}

// HandleGetEvent handles GET /api/v1/events/{id}
func (h *EventHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid event ID format", nil)
		return
	}

	event, err := h.store.GetByID(ctx, eventstore.Identity{UserID: userID}, eventID)
	if err != nil {
		h.logger.Debug("event lookup failed",
			zap.String("request_id", requestID),
			zap.String("event_id", eventID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, event)
}

// HandleTraceCorrelation handles GET /api/v1/events/correlation/{id}.
// It returns the full workflow chain, timestamp-ordered.
func (h *EventHandler) HandleTraceCorrelation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	correlationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid correlation ID format", nil)
		return
	}

	events, err := h.store.Trace(ctx, eventstore.Identity{UserID: userID}, correlationID)
	if err != nil {
		h.logger.Error("failed to trace workflow",
			zap.String("request_id", requestID),
			zap.String("correlation_id", correlationID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteList(w, events, int64(len(events)))
}

// HandleGetAggregateVersion handles GET /api/v1/events/aggregate/{id}/version.
// Clients that lose a version race fetch the current version here before
// resubmitting their intent.
func (h *EventHandler) HandleGetAggregateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	aggregateID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid aggregate ID format", nil)
		return
	}

	version, err := h.store.LatestVersion(ctx, aggregateID)
	if err != nil {
		h.logger.Error("failed to get aggregate version",
			zap.String("request_id", requestID),
			zap.String("aggregate_id", aggregateID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"aggregate_id": aggregateID,
		"version":      version,
	})
}

// parseEventFilter builds an event filter from query parameters
func parseEventFilter(r *http.Request) (repositories.EventFilter, error) {
	var filter repositories.EventFilter

	filter.Type = r.URL.Query().Get("type")
	filter.AggregateType = r.URL.Query().Get("aggregate_type")

	if s := r.URL.Query().Get("aggregate_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return filter, errInvalidQueryParam("aggregate_id")
		}
		filter.AggregateID = &id
	}
	if s := r.URL.Query().Get("from"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, errInvalidQueryParam("from")
		}
		filter.From = &ts
	}
	if s := r.URL.Query().Get("to"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, errInvalidQueryParam("to")
		}
		filter.To = &ts
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return filter, errInvalidQueryParam("limit")
		}
		filter.Limit = limit
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return filter, errInvalidQueryParam("offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

type queryParamError struct {
	param string
}

func (e queryParamError) Error() string {
	return "Invalid " + e.param + " query parameter"
}

func errInvalidQueryParam(param string) error {
	return queryParamError{param: param}
}
