package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

// WorkspaceRepository implements the repositories.WorkspaceRepository interface
type WorkspaceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(db *DB, logger *zap.Logger) repositories.WorkspaceRepository {
	return &WorkspaceRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new workspace and records its owner as a member
func (r *WorkspaceRepository) Create(ctx context.Context, workspace *models.Workspace) error {
	settings, err := json.Marshal(workspace.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal workspace settings: %w", err)
	}

	query := `
		INSERT INTO workspaces (id, name, owner_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		workspace.ID,
		workspace.Name,
		workspace.OwnerID,
		settings,
		workspace.CreatedAt,
		workspace.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workspace: %w", err)
	}

	memberQuery := `
		INSERT INTO workspace_members (workspace_id, user_id, role, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`
	_, err = executor.ExecContext(ctx, memberQuery,
		workspace.ID, workspace.OwnerID, string(models.RoleOwner), workspace.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert owner membership: %w", err)
	}

	r.logger.Debug("workspace created", zap.String("id", workspace.ID.String()))
	return nil
}

// GetByID retrieves a workspace by ID
func (r *WorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	query := `
		SELECT id, name, owner_id, settings, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)

	var (
		workspace models.Workspace
		settings  []byte
	)
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&workspace.ID,
		&workspace.Name,
		&workspace.OwnerID,
		&settings,
		&workspace.CreatedAt,
		&workspace.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrWorkspaceNotFound.WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &workspace.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workspace settings: %w", err)
		}
	}

	return &workspace, nil
}

// UpdateSettings replaces the workspace settings
func (r *WorkspaceRepository) UpdateSettings(ctx context.Context, id uuid.UUID, settings models.WorkspaceSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal workspace settings: %w", err)
	}

	query := `
		UPDATE workspaces
		SET settings = $1, updated_at = $2
		WHERE id = $3
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, raw, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update workspace settings: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return services.ErrWorkspaceNotFound.WithDetail("id", id.String())
	}

	return nil
}

// GetMemberRole returns the role of a user in a workspace
func (r *WorkspaceRepository) GetMemberRole(ctx context.Context, workspaceID, userID uuid.UUID) (models.Role, error) {
	query := `
		SELECT role FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	var role string
	err := executor.QueryRowContext(ctx, query, workspaceID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", services.ErrMemberNotFound.
				WithDetail("workspace_id", workspaceID.String()).
				WithDetail("user_id", userID.String())
		}
		return "", fmt.Errorf("failed to get member role: %w", err)
	}

	return models.Role(role), nil
}

// AddMember adds or updates a workspace membership
func (r *WorkspaceRepository) AddMember(ctx context.Context, member *models.WorkspaceMember) error {
	query := `
		INSERT INTO workspace_members (workspace_id, user_id, role, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		member.WorkspaceID, member.UserID, string(member.Role), member.AddedAt)
	if err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}

	r.logger.Debug("workspace member upserted",
		zap.String("workspace_id", member.WorkspaceID.String()),
		zap.String("user_id", member.UserID.String()),
		zap.String("role", string(member.Role)))
	return nil
}

// RemoveMember removes a workspace membership
func (r *WorkspaceRepository) RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	query := `DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove workspace member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return services.ErrMemberNotFound.
			WithDetail("workspace_id", workspaceID.String()).
			WithDetail("user_id", userID.String())
	}

	return nil
}

// ListMembers lists all members of a workspace
func (r *WorkspaceRepository) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]*models.WorkspaceMember, error) {
	query := `
		SELECT workspace_id, user_id, role, added_at
		FROM workspace_members
		WHERE workspace_id = $1
		ORDER BY added_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	var members []*models.WorkspaceMember
	for rows.Next() {
		var (
			member models.WorkspaceMember
			role   string
		)
		if err := rows.Scan(&member.WorkspaceID, &member.UserID, &role, &member.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace member: %w", err)
		}
		member.Role = models.Role(role)
		members = append(members, &member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workspace members: %w", err)
	}

	return members, nil
}
