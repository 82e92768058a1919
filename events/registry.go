// Package events implements the event contract: construction, payload schema
// validation and parsing of persisted or transported event records.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownEventType is returned by the registry when no schema is registered
// for a type. Callers treat it as informational, never fatal.
var ErrUnknownEventType = errors.New("no schema registered for event type")

// Registry maps event type names to payload schemas. A schema is a struct
// prototype whose fields carry validator tags; payloads for registered types
// are decoded into a fresh copy of the prototype and validated.
//
// Unregistered types pass through untouched so new aggregate/action pairs can
// be introduced without code changes here.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]reflect.Type
	validate *validator.Validate
}

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas:  make(map[string]reflect.Type),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register associates an event type with a payload prototype.
// The prototype must be a struct or pointer to struct.
func (r *Registry) Register(eventType string, prototype interface{}) error {
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("nil prototype for event type %q", eventType)
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("prototype for event type %q must be a struct, got %s", eventType, t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[eventType] = t
	return nil
}

// Has reports whether a schema is registered for the event type
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[eventType]
	return ok
}

// Validate checks a raw payload against the registered schema for eventType.
// Returns ErrUnknownEventType when no schema is registered.
func (r *Registry) Validate(eventType string, data json.RawMessage) error {
	r.mu.RLock()
	t, ok := r.schemas[eventType]
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownEventType
	}

	target := reflect.New(t).Interface()
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("payload does not match schema for %q: %w", eventType, err)
	}
	if err := r.validate.Struct(target); err != nil {
		return fmt.Errorf("payload failed schema validation for %q: %w", eventType, err)
	}
	return nil
}
