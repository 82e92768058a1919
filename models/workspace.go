package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a member's role within a workspace
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// rank orders roles from least to most privileged
var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// AtLeast reports whether the role grants at least the privileges of other
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Valid reports whether the role is one of the known workspace roles
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// WorkspaceSettings holds per-workspace policy settings
type WorkspaceSettings struct {
	// AIAutoApprove controls whether AI-originated intents skip human review
	AIAutoApprove bool `json:"ai_auto_approve"`
}

// Workspace is a shared multi-tenant container for notes, tasks and projects
type Workspace struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	OwnerID   uuid.UUID         `json:"owner_id" db:"owner_id"`
	Settings  WorkspaceSettings `json:"settings" db:"settings"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Workspace model
func (Workspace) TableName() string {
	return "workspaces"
}

// NewWorkspace creates a workspace owned by the given user.
// AI auto-approval defaults to off so AI intents require review.
func NewWorkspace(name string, ownerID uuid.UUID) *Workspace {
	now := time.Now().UTC()
	return &Workspace{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   ownerID,
		Settings:  WorkspaceSettings{AIAutoApprove: false},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WorkspaceMember associates a user with a workspace role
type WorkspaceMember struct {
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	AddedAt     time.Time `json:"added_at" db:"added_at"`
}

// TableName returns the table name for the WorkspaceMember model
func (WorkspaceMember) TableName() string {
	return "workspace_members"
}
