package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/assistant-backend/middleware"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services/proposals"
	"github.com/upb/assistant-backend/utils"
	"go.uber.org/zap"
)

// ReviewProposalRequest carries the optional reviewer comment or reason
type ReviewProposalRequest struct {
	Comment string `json:"comment,omitempty" validate:"max=2000"`
	Reason  string `json:"reason,omitempty" validate:"max=2000"`
}

// SubmitProposalRequest represents a manual change routed through the pipeline
type SubmitProposalRequest struct {
	TargetType  string          `json:"target_type" validate:"required"`
	ChangeType  string          `json:"change_type" validate:"required,oneof=create update delete"`
	Data        json.RawMessage `json:"data"`
	TargetID    string          `json:"target_id,omitempty"`
	Reasoning   string          `json:"reasoning,omitempty" validate:"max=2000"`
	WorkspaceID *uuid.UUID      `json:"workspace_id,omitempty"`
}

// ProposalHandler handles proposal review HTTP requests
type ProposalHandler struct {
	service *proposals.Service
	logger  *zap.Logger
}

// NewProposalHandler creates a new ProposalHandler
func NewProposalHandler(service *proposals.Service, logger *zap.Logger) *ProposalHandler {
	return &ProposalHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListProposals handles GET /api/v1/proposals
func (h *ProposalHandler) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	filter, err := parseProposalFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	items, total, err := h.service.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list proposals",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteList(w, items, total)
}

// HandleGetProposal handles GET /api/v1/proposals/{id}
func (h *ProposalHandler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proposalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid proposal ID format", nil)
		return
	}

	proposal, err := h.service.Get(ctx, proposalID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, proposal)
}

// HandleApproveProposal handles POST /api/v1/proposals/{id}/approve
func (h *ProposalHandler) HandleApproveProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	reviewerID := middleware.GetUserIDFromContext(ctx)
	if reviewerID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	proposalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid proposal ID format", nil)
		return
	}

	req, err := parseReviewBody(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.service.Approve(ctx, proposalID, reviewerID, req.Comment); err != nil {
		h.logger.Warn("proposal approval failed",
			zap.String("request_id", requestID),
			zap.String("proposal_id", proposalID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, map[string]string{
		"id":     proposalID.String(),
		"status": string(models.ProposalStatusValidated),
	})
}

// HandleRejectProposal handles POST /api/v1/proposals/{id}/reject
func (h *ProposalHandler) HandleRejectProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	reviewerID := middleware.GetUserIDFromContext(ctx)
	if reviewerID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	proposalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid proposal ID format", nil)
		return
	}

	req, err := parseReviewBody(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.service.Reject(ctx, proposalID, reviewerID, req.Reason); err != nil {
		h.logger.Warn("proposal rejection failed",
			zap.String("request_id", requestID),
			zap.String("proposal_id", proposalID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, map[string]string{
		"id":     proposalID.String(),
		"status": string(models.ProposalStatusRejected),
	})
}

// HandleSubmitProposal handles POST /api/v1/proposals
func (h *ProposalHandler) HandleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req SubmitProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Submit(ctx, proposals.SubmitParams{
		TargetType:  req.TargetType,
		ChangeType:  req.ChangeType,
		Data:        req.Data,
		TargetID:    req.TargetID,
		Reasoning:   req.Reasoning,
		UserID:      userID,
		WorkspaceID: req.WorkspaceID,
	})
	if err != nil {
		h.logger.Error("proposal submission failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteAccepted(w, result)
}

// parseReviewBody decodes an optional review body; an empty body is valid
func parseReviewBody(r *http.Request) (*ReviewProposalRequest, error) {
	var req ReviewProposalRequest
	if r.Body == nil || r.ContentLength == 0 {
		return &req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// parseProposalFilter builds a proposal filter from query parameters
func parseProposalFilter(r *http.Request) (repositories.ProposalFilter, error) {
	var filter repositories.ProposalFilter

	filter.TargetType = r.URL.Query().Get("target_type")
	filter.TargetID = r.URL.Query().Get("target_id")

	if s := r.URL.Query().Get("status"); s != "" {
		status := models.ProposalStatus(s)
		switch status {
		case models.ProposalStatusPending, models.ProposalStatusValidated, models.ProposalStatusRejected:
			filter.Status = status
		default:
			return filter, errInvalidQueryParam("status")
		}
	}
	if s := r.URL.Query().Get("workspace_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return filter, errInvalidQueryParam("workspace_id")
		}
		filter.WorkspaceID = &id
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
