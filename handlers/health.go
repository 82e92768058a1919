package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/assistant-backend/config"
	"github.com/upb/assistant-backend/repositories/postgres"
	"github.com/upb/assistant-backend/services/bus"
	"go.uber.org/zap"
)

// HealthHandler serves liveness, readiness and status endpoints
type HealthHandler struct {
	cfg        *config.Config
	db         *postgres.DB
	dispatcher *bus.Dispatcher
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(cfg *config.Config, db *postgres.DB, dispatcher *bus.Dispatcher, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:        cfg,
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleHealthCheck handles GET /healthz
func (h *HealthHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// HandleReadinessCheck handles GET /readyz: database reachability plus the
// dispatcher being started
func (h *HealthHandler) HandleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ready"
	checks := map[string]string{}

	if h.db == nil {
		status = "not_ready"
		checks["database"] = "not_initialized"
	} else if err := h.db.HealthCheck(ctx); err != nil {
		status = "not_ready"
		checks["database"] = "unhealthy"
		h.logger.Error("database health check failed", zap.Error(err))
	} else {
		checks["database"] = "healthy"
	}

	if stats := h.dispatcher.GetStats(); stats.Started {
		checks["dispatcher"] = "running"
	} else {
		status = "not_ready"
		checks["dispatcher"] = "stopped"
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "ready" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.dispatcher.GetStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"version":     "0.1.0",
		"environment": h.cfg.Environment,
		"pipeline": map[string]interface{}{
			"workers": stats.WorkerCount,
			"pending": stats.PendingEvents,
			"started": stats.Started,
		},
	})
}
