// Package permissions resolves whether an acting identity holds a required
// capability in a workspace. The validator treats the resolver as
// authoritative and fail-closed.
package permissions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

// Capability is the permission level an action requires
type Capability string

const (
	// CapabilityRead covers reads and listings; granted by default
	CapabilityRead Capability = "read"
	// CapabilityEditor covers create and update actions
	CapabilityEditor Capability = "editor"
	// CapabilityManage covers membership and role management
	CapabilityManage Capability = "manage"
	// CapabilityOwner covers destructive actions
	CapabilityOwner Capability = "owner"
)

// membershipActions are routing-key actions that manage workspace membership
var membershipActions = map[string]bool{
	"add-member":    true,
	"remove-member": true,
	"change-role":   true,
}

// ForAction maps a routing key (aggregate + action) to the capability it
// requires. Unknown actions default to read, which is granted.
func ForAction(aggregate, action string) Capability {
	switch {
	case action == "delete":
		return CapabilityOwner
	case membershipActions[action], aggregate == "members", aggregate == "memberships":
		return CapabilityManage
	case action == "create", action == "update":
		return CapabilityEditor
	default:
		return CapabilityRead
	}
}

// minimumRole returns the least workspace role satisfying a capability
func minimumRole(capability Capability) models.Role {
	switch capability {
	case CapabilityOwner:
		return models.RoleOwner
	case CapabilityManage:
		return models.RoleAdmin
	case CapabilityEditor:
		return models.RoleEditor
	default:
		return models.RoleViewer
	}
}

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool
	Role    models.Role
	Reason  string
}

// Resolver decides whether a user holds a capability in a workspace scope.
// Project scope inherits the enclosing workspace's membership.
type Resolver interface {
	VerifyPermission(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, projectIDs []uuid.UUID, capability Capability) (Decision, error)
}

// MembershipResolver resolves permissions from workspace membership rows
type MembershipResolver struct {
	workspaces repositories.WorkspaceRepository
	logger     *zap.Logger
}

// NewMembershipResolver creates a membership-backed permission resolver
func NewMembershipResolver(workspaces repositories.WorkspaceRepository, logger *zap.Logger) *MembershipResolver {
	return &MembershipResolver{
		workspaces: workspaces,
		logger:     logger,
	}
}

// VerifyPermission resolves a capability check against workspace membership.
// No workspace scope means the target is personally owned, which is always
// granted; reads are granted regardless of membership.
func (r *MembershipResolver) VerifyPermission(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, projectIDs []uuid.UUID, capability Capability) (Decision, error) {
	if workspaceID == nil {
		return Decision{Allowed: true, Reason: "personal ownership"}, nil
	}
	if capability == CapabilityRead {
		return Decision{Allowed: true, Reason: "read access granted by default"}, nil
	}

	role, err := r.workspaces.GetMemberRole(ctx, *workspaceID, userID)
	if err != nil {
		if services.IsNotFoundError(err) {
			return Decision{
				Allowed: false,
				Reason:  "not a workspace member",
			}, nil
		}
		return Decision{}, services.WrapExternal("permission lookup failed", err)
	}

	required := minimumRole(capability)
	if !role.AtLeast(required) {
		r.logger.Debug("permission denied",
			zap.String("user_id", userID.String()),
			zap.String("workspace_id", workspaceID.String()),
			zap.String("capability", string(capability)),
			zap.String("role", string(role)))
		return Decision{
			Allowed: false,
			Role:    role,
			Reason:  fmt.Sprintf("requires the %s role, user has %s", required, role),
		}, nil
	}

	return Decision{Allowed: true, Role: role}, nil
}
