package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

const proposalColumns = `id, workspace_id, correlation_id, target_type, target_id,
	request, status, reviewed_by, reviewed_at, rejection_reason, created_at`

// ProposalRepository implements the repositories.ProposalRepository interface
type ProposalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db *DB, logger *zap.Logger) repositories.ProposalRepository {
	return &ProposalRepository{
		db:     db,
		logger: logger,
	}
}

// Insert creates a new pending proposal
func (r *ProposalRepository) Insert(ctx context.Context, proposal *models.Proposal) error {
	query := `
		INSERT INTO proposals (
			id, workspace_id, correlation_id, target_type, target_id,
			request, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		proposal.ID,
		proposal.WorkspaceID,
		proposal.CorrelationID,
		proposal.TargetType,
		proposal.TargetID,
		[]byte(proposal.Request),
		string(proposal.Status),
		proposal.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}

	r.logger.Debug("proposal inserted",
		zap.String("id", proposal.ID.String()),
		zap.String("target_type", proposal.TargetType),
		zap.String("correlation_id", proposal.CorrelationID.String()))
	return nil
}

// GetByID retrieves a proposal by ID
func (r *ProposalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE id = $1`, proposalColumns)

	executor := GetExecutor(ctx, r.db)
	proposal, err := scanProposal(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrProposalNotFound.WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	return proposal, nil
}

// List retrieves proposals matching the filter, newest first
func (r *ProposalRepository) List(ctx context.Context, filter repositories.ProposalFilter) ([]*models.Proposal, error) {
	where, args := buildProposalFilter(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM proposals
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, proposalColumns, where, len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate proposals: %w", err)
	}

	return proposals, nil
}

// Count mirrors List for pagination totals
func (r *ProposalRepository) Count(ctx context.Context, filter repositories.ProposalFilter) (int64, error) {
	where, args := buildProposalFilter(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM proposals %s`, where)

	executor := GetExecutor(ctx, r.db)
	var count int64
	if err := executor.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count proposals: %w", err)
	}

	return count, nil
}

// MarkValidated transitions a pending proposal to validated. The status guard
// in the UPDATE makes the transition single-shot under redelivery: a second
// attempt matches zero rows and reports a conflict.
func (r *ProposalRepository) MarkValidated(ctx context.Context, id, reviewerID uuid.UUID, reviewedAt time.Time) error {
	query := `
		UPDATE proposals
		SET status = $1, reviewed_by = $2, reviewed_at = $3
		WHERE id = $4 AND status = $5
	`

	return r.transition(ctx, id, query,
		string(models.ProposalStatusValidated), reviewerID, reviewedAt, id, string(models.ProposalStatusPending))
}

// MarkRejected transitions a pending proposal to rejected
func (r *ProposalRepository) MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reviewedAt time.Time, reason *string) error {
	query := `
		UPDATE proposals
		SET status = $1, reviewed_by = $2, reviewed_at = $3, rejection_reason = $4
		WHERE id = $5 AND status = $6
	`

	return r.transition(ctx, id, query,
		string(models.ProposalStatusRejected), reviewerID, reviewedAt, reason, id, string(models.ProposalStatusPending))
}

// transition runs a guarded status update and maps a zero-row result to
// not-found or already-reviewed
func (r *ProposalRepository) transition(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update proposal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing proposal from one already reviewed
		var status string
		err := executor.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return services.ErrProposalNotFound.WithDetail("id", id.String())
		}
		if err != nil {
			return fmt.Errorf("failed to read proposal status: %w", err)
		}
		return services.ErrProposalReviewed.
			WithDetail("id", id.String()).
			WithDetail("status", status)
	}

	r.logger.Debug("proposal reviewed", zap.String("id", id.String()))
	return nil
}

// HasPendingForCorrelation reports whether the workflow already produced a
// pending proposal
func (r *ProposalRepository) HasPendingForCorrelation(ctx context.Context, correlationID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM proposals WHERE correlation_id = $1 AND status = $2)`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, correlationID, string(models.ProposalStatusPending)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for pending proposal: %w", err)
	}

	return exists, nil
}

// buildProposalFilter assembles the WHERE clause and args for List/Count
func buildProposalFilter(filter repositories.ProposalFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.WorkspaceID != nil {
		add("workspace_id = $%d", *filter.WorkspaceID)
	}
	if filter.TargetType != "" {
		add("target_type = $%d", filter.TargetType)
	}
	if filter.TargetID != "" {
		add("target_id = $%d", filter.TargetID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		proposal        models.Proposal
		workspaceID     uuid.NullUUID
		request         []byte
		status          string
		reviewedBy      uuid.NullUUID
		reviewedAt      sql.NullTime
		rejectionReason sql.NullString
	)

	err := row.Scan(
		&proposal.ID,
		&workspaceID,
		&proposal.CorrelationID,
		&proposal.TargetType,
		&proposal.TargetID,
		&request,
		&status,
		&reviewedBy,
		&reviewedAt,
		&rejectionReason,
		&proposal.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	proposal.Request = request
	proposal.Status = models.ProposalStatus(status)
	if workspaceID.Valid {
		proposal.WorkspaceID = &workspaceID.UUID
	}
	if reviewedBy.Valid {
		proposal.ReviewedBy = &reviewedBy.UUID
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		proposal.ReviewedAt = &t
	}
	if rejectionReason.Valid {
		s := rejectionReason.String
		proposal.RejectionReason = &s
	}

	return &proposal, nil
}
