package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// EventFilter narrows event searches. Zero-valued fields are ignored.
type EventFilter struct {
	UserID        *uuid.UUID
	Type          string
	AggregateID   *uuid.UUID
	AggregateType string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// EventRepository is the append-only event store. There are deliberately no
// update or delete operations: appended events are immutable facts.
type EventRepository interface {
	// Append persists an event. When the event carries an expected aggregate
	// version and another event already holds it for the same aggregate, the
	// append fails with a version conflict instead of overwriting.
	Append(ctx context.Context, event *models.Event) error

	// GetByID retrieves an event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)

	// GetByCorrelationID retrieves all events of a workflow, timestamp-ordered
	GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.Event, error)

	// Search retrieves events matching the filter with pagination
	Search(ctx context.Context, filter EventFilter) ([]*models.Event, error)

	// Count mirrors Search for pagination totals
	Count(ctx context.Context, filter EventFilter) (int64, error)

	// ExistsByCorrelationAndType reports whether an event of the given type was
	// already emitted for the workflow; used to dedupe at-least-once redelivery
	ExistsByCorrelationAndType(ctx context.Context, correlationID uuid.UUID, eventType string) (bool, error)

	// LatestVersion returns the highest version recorded for an aggregate,
	// or 0 when the aggregate has no versioned events
	LatestVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error)

	// FindUnresolvedRequested returns requested-stage events appended before
	// the cutoff whose workflow has neither a later-stage event nor a proposal.
	// Used by the recovery sweep to republish events whose in-process delivery
	// was lost.
	FindUnresolvedRequested(ctx context.Context, before time.Time, limit int) ([]*models.Event, error)
}

// ProposalFilter narrows proposal listings. Zero-valued fields are ignored.
type ProposalFilter struct {
	WorkspaceID *uuid.UUID
	TargetType  string
	TargetID    string
	Status      models.ProposalStatus
	Limit       int
	Offset      int
}

// ProposalRepository holds deferred intents pending human review
type ProposalRepository interface {
	// Insert creates a new pending proposal
	Insert(ctx context.Context, proposal *models.Proposal) error

	// GetByID retrieves a proposal by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Proposal, error)

	// List retrieves proposals matching the filter, newest first
	List(ctx context.Context, filter ProposalFilter) ([]*models.Proposal, error)

	// Count mirrors List for pagination totals
	Count(ctx context.Context, filter ProposalFilter) (int64, error)

	// MarkValidated transitions a pending proposal to validated. Fails with a
	// conflict when the proposal was already reviewed.
	MarkValidated(ctx context.Context, id, reviewerID uuid.UUID, reviewedAt time.Time) error

	// MarkRejected transitions a pending proposal to rejected. Fails with a
	// conflict when the proposal was already reviewed.
	MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reviewedAt time.Time, reason *string) error

	// HasPendingForCorrelation reports whether the workflow already produced a
	// pending proposal; used to dedupe at-least-once redelivery
	HasPendingForCorrelation(ctx context.Context, correlationID uuid.UUID) (bool, error)
}

// WorkspaceRepository handles workspaces, their settings and memberships
type WorkspaceRepository interface {
	// Create creates a new workspace
	Create(ctx context.Context, workspace *models.Workspace) error

	// GetByID retrieves a workspace by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)

	// UpdateSettings replaces the workspace settings
	UpdateSettings(ctx context.Context, id uuid.UUID, settings models.WorkspaceSettings) error

	// GetMemberRole returns the role of a user in a workspace
	GetMemberRole(ctx context.Context, workspaceID, userID uuid.UUID) (models.Role, error)

	// AddMember adds or updates a workspace membership
	AddMember(ctx context.Context, member *models.WorkspaceMember) error

	// RemoveMember removes a workspace membership
	RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error

	// ListMembers lists all members of a workspace
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]*models.WorkspaceMember, error)
}

// Repositories groups all repository instances
type Repositories struct {
	Events     EventRepository
	Proposals  ProposalRepository
	Workspaces WorkspaceRepository
}
