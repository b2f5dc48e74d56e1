package eav

import (
	"errors"
	"fmt"
)

// ErrAttributeNotFound is returned when a write or delete names an attribute
// with no active definition for the entity type.
var ErrAttributeNotFound = errors.New("attribute not found")

// ErrEntityTypeNotFound is returned when an operation names an entity type
// that was never registered in the catalog.
var ErrEntityTypeNotFound = errors.New("entity type not found")

// InvalidValueError reports a raw value that cannot be encoded into the
// requested value kind.
type InvalidValueError struct {
	Kind   ValueKind `json:"kind"`
	Reason string    `json:"reason"`
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s value: %s", e.Kind, e.Reason)
}

// ValidationError reports a per-attribute rule violation. It is surfaced
// before anything is persisted.
type ValidationError struct {
	Attribute string `json:"attribute"`
	Rule      string `json:"rule"`
	Reason    string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s (%s): %s", e.Attribute, e.Rule, e.Reason)
}

// SchemaError reports a missing or conflicting entity type or attribute
// definition. It aborts the single operation that hit it.
type SchemaError struct {
	EntityType string `json:"entity_type"`
	Attribute  string `json:"attribute,omitempty"`
	Reason     string `json:"reason"`
}

func (e *SchemaError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("schema error for %s.%s: %s", e.EntityType, e.Attribute, e.Reason)
	}
	return fmt.Sprintf("schema error for %s: %s", e.EntityType, e.Reason)
}

// ConstraintViolationError reports a duplicate single-valued write that
// bypassed upsert semantics. Callers should retry through Upsert.
type ConstraintViolationError struct {
	AttributeID string `json:"attribute_id"`
	EntityID    string `json:"entity_id"`
	Reason      string `json:"reason"`
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation for attribute %s on entity %s: %s",
		e.AttributeID, e.EntityID, e.Reason)
}
