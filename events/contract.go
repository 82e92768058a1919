package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/assistant-backend/models"
	"github.com/upb/assistant-backend/services"
	"go.uber.org/zap"
)

// Contract constructs and parses events. It owns the schema registry and logs
// schema mismatches without failing construction, so producers keep working
// when a payload predates (or postdates) the registered schema.
type Contract struct {
	registry *Registry
	logger   *zap.Logger
}

// NewContract creates an event contract backed by the given registry
func NewContract(registry *Registry, logger *zap.Logger) *Contract {
	return &Contract{
		registry: registry,
		logger:   logger,
	}
}

// Registry returns the contract's schema registry for registration at startup
func (c *Contract) Registry() *Registry {
	return c.registry
}

// Option customizes event construction
type Option func(*models.Event)

// WithAggregate sets the aggregate the event concerns
func WithAggregate(id uuid.UUID) Option {
	return func(e *models.Event) { e.AggregateID = &id }
}

// WithVersion sets the expected aggregate version for optimistic concurrency
func WithVersion(version int64) Option {
	return func(e *models.Event) { e.Version = &version }
}

// WithWorkspace scopes the event to a workspace
func WithWorkspace(id uuid.UUID) Option {
	return func(e *models.Event) { e.WorkspaceID = &id }
}

// WithSource sets the event origin (defaults to api)
func WithSource(source models.EventSource) Option {
	return func(e *models.Event) { e.Source = source }
}

// WithCorrelationID joins the event to an existing workflow
func WithCorrelationID(id uuid.UUID) Option {
	return func(e *models.Event) { e.CorrelationID = id }
}

// WithCausationID records the immediate parent event
func WithCausationID(id uuid.UUID) Option {
	return func(e *models.Event) { e.CausationID = &id }
}

// WithRequestID links the event to an external API call
func WithRequestID(requestID string) Option {
	return func(e *models.Event) { e.RequestID = requestID }
}

// WithMetadata attaches structured provenance to the event
func WithMetadata(metadata interface{}) Option {
	return func(e *models.Event) {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = raw
		}
	}
}

// CausedBy derives correlation, causation and request linkage from a parent
// event, keeping the whole workflow traceable across stage transitions.
func CausedBy(parent *models.Event) Option {
	return func(e *models.Event) {
		e.CorrelationID = parent.CorrelationID
		id := parent.ID
		e.CausationID = &id
		e.RequestID = parent.RequestID
	}
}

// New constructs an event, assigning its id, timestamp and, unless supplied,
// a fresh correlation id. When a schema is registered for the type and the
// payload fails it, the mismatch is logged and construction proceeds with the
// original payload; schema validation never fails construction.
func (c *Contract) New(eventType string, data interface{}, userID *uuid.UUID, opts ...Option) (*models.Event, error) {
	raw, err := toRawMessage(data)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, "event payload is not serializable", err)
	}

	evt := &models.Event{
		ID:            uuid.New(),
		Type:          eventType,
		Data:          raw,
		UserID:        userID,
		Source:        models.SourceAPI,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New(),
	}
	for _, opt := range opts {
		opt(evt)
	}

	if parsed, err := models.ParseEventType(eventType); err == nil {
		evt.AggregateType = parsed.TargetType()
	}

	if err := c.registry.Validate(eventType, evt.Data); err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			c.logger.Debug("no schema registered for event type",
				zap.String("type", eventType))
		} else {
			c.logger.Warn("event payload failed registered schema, proceeding unvalidated",
				zap.String("type", eventType),
				zap.String("event_id", evt.ID.String()),
				zap.Error(err))
		}
	}

	return evt, nil
}

func toRawMessage(data interface{}) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// wireEvent is the transport representation of an event. The timestamp is
// accepted either as an RFC 3339 string or as a unix epoch number
// (milliseconds, or seconds for values that predate epoch-millis magnitudes).
type wireEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateID   *string         `json:"aggregate_id,omitempty"`
	AggregateType string          `json:"aggregate_type,omitempty"`
	Version       *int64          `json:"version,omitempty"`
	Data          json.RawMessage `json:"data"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	UserID        *string         `json:"user_id,omitempty"`
	WorkspaceID   *string         `json:"workspace_id,omitempty"`
	Source        string          `json:"source"`
	Timestamp     json.RawMessage `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   *string         `json:"causation_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// Parse reconstructs an event from its wire or persisted representation.
// Missing or ill-shaped required fields fail with a malformed event error.
func Parse(raw []byte) (*models.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, services.WrapError(services.ErrorTypeMalformedEvent, "event record is not valid JSON", err)
	}

	if w.ID == "" || w.Type == "" || len(w.Timestamp) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeMalformedEvent,
			"event record missing required fields (id, type, timestamp)", nil)
	}

	id, err := uuid.Parse(w.ID)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeMalformedEvent, "event id is not a valid uuid", err)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeMalformedEvent, "event timestamp is not parseable", err)
	}

	evt := &models.Event{
		ID:            id,
		Type:          w.Type,
		AggregateType: w.AggregateType,
		Version:       w.Version,
		Data:          w.Data,
		Metadata:      w.Metadata,
		Source:        models.EventSource(w.Source),
		Timestamp:     ts,
		RequestID:     w.RequestID,
	}
	if len(evt.Data) == 0 {
		evt.Data = json.RawMessage(`{}`)
	}

	if w.CorrelationID != "" {
		correlationID, err := uuid.Parse(w.CorrelationID)
		if err != nil {
			return nil, services.WrapError(services.ErrorTypeMalformedEvent, "correlation id is not a valid uuid", err)
		}
		evt.CorrelationID = correlationID
	} else {
		// Standalone records imported without workflow context start their own chain
		evt.CorrelationID = id
	}

	if evt.AggregateID, err = parseOptionalUUID(w.AggregateID, "aggregate id"); err != nil {
		return nil, err
	}
	if evt.UserID, err = parseOptionalUUID(w.UserID, "user id"); err != nil {
		return nil, err
	}
	if evt.WorkspaceID, err = parseOptionalUUID(w.WorkspaceID, "workspace id"); err != nil {
		return nil, err
	}
	if evt.CausationID, err = parseOptionalUUID(w.CausationID, "causation id"); err != nil {
		return nil, err
	}

	return evt, nil
}

func parseOptionalUUID(s *string, field string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeMalformedEvent, fmt.Sprintf("%s is not a valid uuid", field), err)
	}
	return &id, nil
}

// epochSecondsCutoff separates epoch-seconds from epoch-milliseconds values;
// anything above it is interpreted as milliseconds.
const epochSecondsCutoff = int64(1) << 40

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n > epochSecondsCutoff {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("timestamp %s is neither an RFC 3339 string nor an epoch number", string(raw))
}
