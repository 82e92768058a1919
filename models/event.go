package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventStage is the lifecycle stage encoded in the third segment of an event type
type EventStage string

const (
	StageRequested EventStage = "requested"
	StageValidated EventStage = "validated"
	StageDenied    EventStage = "denied"
	StageCompleted EventStage = "completed"
)

// EventSource identifies the origin of an event
type EventSource string

const (
	SourceAPI          EventSource = "api"
	SourceAutomation   EventSource = "automation"
	SourceSync         EventSource = "sync"
	SourceMigration    EventSource = "migration"
	SourceSystem       EventSource = "system"
	SourceIntelligence EventSource = "intelligence"
	// SourceAI is accepted as a synonym of intelligence on the wire
	SourceAI EventSource = "ai"
)

// EventType is the parsed form of a "<aggregatePlural>.<action>.<stage>" event name.
// New aggregate/action pairs are added without code changes, so aggregate and
// action are plain strings rather than enums; only the shape is enforced.
type EventType struct {
	Aggregate string
	Action    string
	Stage     EventStage
}

// ParseEventType parses an event name into its three segments.
// Names that are not exactly three non-empty dot-separated segments are rejected.
func ParseEventType(name string) (EventType, error) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return EventType{}, fmt.Errorf("malformed event type %q: expected <aggregate>.<action>.<stage>", name)
	}
	for _, p := range parts {
		if p == "" {
			return EventType{}, fmt.Errorf("malformed event type %q: empty segment", name)
		}
	}
	return EventType{
		Aggregate: parts[0],
		Action:    parts[1],
		Stage:     EventStage(parts[2]),
	}, nil
}

// String reassembles the event name
func (t EventType) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Aggregate, t.Action, t.Stage)
}

// WithStage returns a copy of the type with the stage replaced,
// preserving the routing key (aggregate + action)
func (t EventType) WithStage(stage EventStage) EventType {
	t.Stage = stage
	return t
}

// TargetType returns the singular form of the aggregate, used as the
// target type of proposals ("entities" -> "entity", "notes" -> "note")
func (t EventType) TargetType() string {
	return Singularize(t.Aggregate)
}

// Singularize converts a plural aggregate name to its singular form.
// Handles the naming conventions used by event types; it is not a general
// English inflector.
func Singularize(plural string) string {
	switch {
	case strings.HasSuffix(plural, "ies"):
		return strings.TrimSuffix(plural, "ies") + "y"
	case strings.HasSuffix(plural, "ses"):
		return strings.TrimSuffix(plural, "es")
	case strings.HasSuffix(plural, "s"):
		return strings.TrimSuffix(plural, "s")
	default:
		return plural
	}
}

// Pluralize converts a singular target type back to the aggregate form used
// in event names; the inverse of Singularize for the conventions in use.
func Pluralize(singular string) string {
	switch {
	case strings.HasSuffix(singular, "y"):
		return strings.TrimSuffix(singular, "y") + "ies"
	case strings.HasSuffix(singular, "s"):
		return singular + "es"
	default:
		return singular + "s"
	}
}

// Event is an immutable fact or intent flowing through the pipeline.
// Once appended to the event store an event is never mutated or deleted.
type Event struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Type          string          `json:"type" db:"type"`
	AggregateID   *uuid.UUID      `json:"aggregate_id,omitempty" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type,omitempty" db:"aggregate_type"`
	Version       *int64          `json:"version,omitempty" db:"version"`
	Data          json.RawMessage `json:"data" db:"data"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	UserID        *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	WorkspaceID   *uuid.UUID      `json:"workspace_id,omitempty" db:"workspace_id"`
	Source        EventSource     `json:"source" db:"source"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	CorrelationID uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	CausationID   *uuid.UUID      `json:"causation_id,omitempty" db:"causation_id"`
	RequestID     string          `json:"request_id,omitempty" db:"request_id"`
}

// TableName returns the table name for the Event model
func (Event) TableName() string {
	return "events"
}

// ParsedType returns the structured form of the event's type
func (e *Event) ParsedType() (EventType, error) {
	return ParseEventType(e.Type)
}

// IsAIOriginated reports whether the event was produced by the intelligence
// layer, either via its source or via a metadata source marker.
func (e *Event) IsAIOriginated() bool {
	if e.Source == SourceIntelligence || e.Source == SourceAI {
		return true
	}
	if len(e.Metadata) == 0 {
		return false
	}
	var meta struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(e.Metadata, &meta); err != nil {
		return false
	}
	return meta.Source == "ai" || meta.Source == "intelligence"
}

// DataField extracts a string field from the event payload, returning
// empty string when the payload is not an object or the field is absent
func (e *Event) DataField(key string) string {
	if len(e.Data) == 0 {
		return ""
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ""
	}
	raw, ok := payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// TargetID resolves the entity the event concerns for proposal routing:
// documentId, then entityId, then id from the payload, then the aggregate id.
// Returns empty string when none is present.
func (e *Event) TargetID() string {
	for _, key := range []string{"documentId", "entityId", "id"} {
		if v := e.DataField(key); v != "" {
			return v
		}
	}
	if e.AggregateID != nil {
		return e.AggregateID.String()
	}
	return ""
}
