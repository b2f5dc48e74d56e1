package eav

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RawDocument is an opaque serialized JSON payload stored for the structured
// value kind. It is syntax-checked on encode but never decomposed.
type RawDocument json.RawMessage

// Value implements the driver.Valuer interface for JSONB storage.
func (d RawDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return []byte(d), nil
}

// Scan implements the sql.Scanner interface for JSONB retrieval.
func (d *RawDocument) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*d = append(RawDocument(nil), v...)
	case string:
		*d = RawDocument(v)
	default:
		return fmt.Errorf("cannot scan %T into RawDocument", value)
	}
	return nil
}

// MarshalJSON passes the payload through unchanged.
func (d RawDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

// UnmarshalJSON stores the payload unchanged.
func (d *RawDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// ValidationRules is the optional per-definition rule document: inclusive
// numeric bounds, an enumerated allowed set, and a string length cap. Stored
// as JSONB alongside the definition.
type ValidationRules struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
}

// IsZero reports whether no rule is declared.
func (r ValidationRules) IsZero() bool {
	return r.Min == nil && r.Max == nil && len(r.Enum) == 0 && r.MaxLength == nil
}

// Value implements the driver.Valuer interface for JSONB storage.
func (r ValidationRules) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for JSONB retrieval.
func (r *ValidationRules) Scan(value interface{}) error {
	if value == nil {
		*r = ValidationRules{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ValidationRules", value)
	}
	return json.Unmarshal(bytes, r)
}
