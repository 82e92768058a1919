package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProposalStatus represents the review state of a proposal
type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "pending"
	ProposalStatusValidated ProposalStatus = "validated"
	ProposalStatusRejected  ProposalStatus = "rejected"
)

// ProposalRequest is the serialized original request held by a proposal,
// along with the policy's reasoning for deferring it. It carries everything
// needed to re-emit a validated event on approval.
type ProposalRequest struct {
	Event      *Event          `json:"event"`
	TargetType string          `json:"target_type"`
	ChangeType string          `json:"change_type"`
	Data       json.RawMessage `json:"data"`
	RequestID  string          `json:"request_id,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// Proposal is a deferred intent awaiting human review.
// It is created only by the validator when policy defers a request and is
// mutated exactly once, on approve or reject.
type Proposal struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	WorkspaceID     *uuid.UUID      `json:"workspace_id,omitempty" db:"workspace_id"`
	CorrelationID   uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	TargetType      string          `json:"target_type" db:"target_type"`
	TargetID        string          `json:"target_id" db:"target_id"`
	Request         json.RawMessage `json:"request" db:"request"`
	Status          ProposalStatus  `json:"status" db:"status"`
	ReviewedBy      *uuid.UUID      `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	RejectionReason *string         `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Proposal model
func (Proposal) TableName() string {
	return "proposals"
}

// NewProposal creates a pending proposal for the given target.
// The correlation id ties the proposal back to the workflow that deferred it.
func NewProposal(workspaceID *uuid.UUID, correlationID uuid.UUID, targetType, targetID string, request *ProposalRequest) (*Proposal, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return &Proposal{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		CorrelationID: correlationID,
		TargetType:    targetType,
		TargetID:      targetID,
		Request:       raw,
		Status:        ProposalStatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// ParseRequest decodes the stored request payload
func (p *Proposal) ParseRequest() (*ProposalRequest, error) {
	var req ProposalRequest
	if err := json.Unmarshal(p.Request, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
