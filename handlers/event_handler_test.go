package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/middleware"
	"github.com/upb/assistant-backend/services/bus"
	"github.com/upb/assistant-backend/services/eventstore"
	"go.uber.org/zap"
)

func newEventHandler(t *testing.T) (*EventHandler, *MockEventRepository) {
	t.Helper()
	logger := zap.NewNop()
	mockEvents := new(MockEventRepository)
	dispatcher := bus.NewDispatcher(bus.DefaultConfig(), logger)
	store := eventstore.NewStore(mockEvents, dispatcher, logger)
	return NewEventHandler(store, logger), mockEvents
}

// getRequest builds an authenticated GET request with a chi {id} URL param
func getRequest(t *testing.T, userID uuid.UUID, path, id string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != uuid.Nil {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}

	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestHandleGetAggregateVersion_ReturnsLatest(t *testing.T) {
	handler, mockEvents := newEventHandler(t)
	aggregateID := uuid.New()

	mockEvents.On("LatestVersion", mock.Anything, aggregateID).Return(int64(7), nil)

	w := httptest.NewRecorder()
	handler.HandleGetAggregateVersion(w, getRequest(t, uuid.New(),
		"/api/v1/events/aggregate/"+aggregateID.String()+"/version", aggregateID.String()))

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data struct {
			AggregateID uuid.UUID `json:"aggregate_id"`
			Version     int64     `json:"version"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, aggregateID, response.Data.AggregateID)
	assert.Equal(t, int64(7), response.Data.Version)
}

func TestHandleGetAggregateVersion_UnversionedAggregateIsZero(t *testing.T) {
	handler, mockEvents := newEventHandler(t)
	aggregateID := uuid.New()

	mockEvents.On("LatestVersion", mock.Anything, aggregateID).Return(int64(0), nil)

	w := httptest.NewRecorder()
	handler.HandleGetAggregateVersion(w, getRequest(t, uuid.New(),
		"/api/v1/events/aggregate/"+aggregateID.String()+"/version", aggregateID.String()))

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data struct {
			Version int64 `json:"version"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, int64(0), response.Data.Version)
}

func TestHandleGetAggregateVersion_RequiresAuth(t *testing.T) {
	handler, mockEvents := newEventHandler(t)

	w := httptest.NewRecorder()
	handler.HandleGetAggregateVersion(w, getRequest(t, uuid.Nil,
		"/api/v1/events/aggregate/abc/version", "abc"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockEvents.AssertNotCalled(t, "LatestVersion")
}

func TestHandleGetAggregateVersion_RejectsInvalidID(t *testing.T) {
	handler, mockEvents := newEventHandler(t)

	w := httptest.NewRecorder()
	handler.HandleGetAggregateVersion(w, getRequest(t, uuid.New(),
		"/api/v1/events/aggregate/not-a-uuid/version", "not-a-uuid"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockEvents.AssertNotCalled(t, "LatestVersion")
}
