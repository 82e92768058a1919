package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/assistant-backend/middleware"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"github.com/upb/assistant-backend/utils"
	"go.uber.org/zap"
)

// CreateWorkspaceRequest represents a request to create a workspace
type CreateWorkspaceRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// UpdateWorkspaceSettingsRequest represents a workspace settings update
type UpdateWorkspaceSettingsRequest struct {
	AIAutoApprove bool `json:"ai_auto_approve"`
}

// AddMemberRequest represents a request to add or update a workspace member
type AddMemberRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Role   string    `json:"role" validate:"required,oneof=owner admin editor viewer"`
}

// WorkspaceHandler handles workspace HTTP requests
type WorkspaceHandler struct {
	workspaces repositories.WorkspaceRepository
	logger     *zap.Logger
}

// NewWorkspaceHandler creates a new WorkspaceHandler
func NewWorkspaceHandler(workspaces repositories.WorkspaceRepository, logger *zap.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{
		workspaces: workspaces,
		logger:     logger,
	}
}

// HandleCreateWorkspace handles POST /api/v1/workspaces
func (h *WorkspaceHandler) HandleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	workspace := models.NewWorkspace(req.Name, userID)
	if err := h.workspaces.Create(ctx, workspace); err != nil {
		h.logger.Error("failed to create workspace",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("workspace created",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspace.ID.String()),
		zap.String("owner_id", userID.String()))

	_ = utils.WriteCreated(w, workspace)
}

// HandleGetWorkspace handles GET /api/v1/workspaces/{id}
func (h *WorkspaceHandler) HandleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	workspaceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace ID format", nil)
		return
	}

	if _, err := h.requireRole(ctx, workspaceID, userID, models.RoleViewer); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	workspace, err := h.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, workspace)
}

// HandleUpdateSettings handles PUT /api/v1/workspaces/{id}/settings
func (h *WorkspaceHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	workspaceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace ID format", nil)
		return
	}

	var req UpdateWorkspaceSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	// Settings govern policy, so changing them needs the admin role
	if _, err := h.requireRole(ctx, workspaceID, userID, models.RoleAdmin); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	settings := models.WorkspaceSettings{AIAutoApprove: req.AIAutoApprove}
	if err := h.workspaces.UpdateSettings(ctx, workspaceID, settings); err != nil {
		h.logger.Error("failed to update workspace settings",
			zap.String("request_id", requestID),
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("workspace settings updated",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()),
		zap.Bool("ai_auto_approve", req.AIAutoApprove))

	_ = utils.WriteOK(w, settings)
}

// HandleListMembers handles GET /api/v1/workspaces/{id}/members
func (h *WorkspaceHandler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	workspaceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace ID format", nil)
		return
	}

	if _, err := h.requireRole(ctx, workspaceID, userID, models.RoleViewer); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	members, err := h.workspaces.ListMembers(ctx, workspaceID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteList(w, members, int64(len(members)))
}

// HandleAddMember handles POST /api/v1/workspaces/{id}/members
func (h *WorkspaceHandler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	workspaceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace ID format", nil)
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actorRole, err := h.requireRole(ctx, workspaceID, userID, models.RoleAdmin)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	// Only owners may grant the owner role
	if models.Role(req.Role) == models.RoleOwner && actorRole != models.RoleOwner {
		_ = utils.WriteForbidden(w, "Only the workspace owner can grant the owner role")
		return
	}

	member := &models.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      req.UserID,
		Role:        models.Role(req.Role),
	}
	if err := h.workspaces.AddMember(ctx, member); err != nil {
		h.logger.Error("failed to add workspace member",
			zap.String("request_id", requestID),
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("workspace member added",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("member_id", req.UserID.String()),
		zap.String("role", req.Role))

	_ = utils.WriteCreated(w, member)
}

// HandleRemoveMember handles DELETE /api/v1/workspaces/{id}/members/{userId}
func (h *WorkspaceHandler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	workspaceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace ID format", nil)
		return
	}

	memberID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid member ID format", nil)
		return
	}

	if _, err := h.requireRole(ctx, workspaceID, userID, models.RoleAdmin); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	memberRole, err := h.workspaces.GetMemberRole(ctx, workspaceID, memberID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if memberRole == models.RoleOwner {
		_ = utils.WriteForbidden(w, "The workspace owner cannot be removed")
		return
	}

	if err := h.workspaces.RemoveMember(ctx, workspaceID, memberID); err != nil {
		h.logger.Error("failed to remove workspace member",
			zap.String("request_id", requestID),
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("workspace member removed",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("member_id", memberID.String()))

	utils.WriteNoContent(w)
}

// requireRole verifies the user holds at least the given role in the
// workspace, returning their actual role. Non-members get a forbidden error.
func (h *WorkspaceHandler) requireRole(ctx context.Context, workspaceID, userID uuid.UUID, minimum models.Role) (models.Role, error) {
	role, err := h.workspaces.GetMemberRole(ctx, workspaceID, userID)
	if err != nil {
		if services.IsNotFoundError(err) {
			return "", services.NewDomainError(services.ErrorTypeForbidden, "not a workspace member", nil)
		}
		return "", err
	}
	if !role.AtLeast(minimum) {
		return "", services.NewDomainError(services.ErrorTypeForbidden, "insufficient workspace role", nil).
			WithDetail("required_role", string(minimum)).
			WithDetail("role", string(role))
	}
	return role, nil
}
