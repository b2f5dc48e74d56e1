// Package eav implements the schema-flexible attribute engine: a catalog of
// administrator-defined attribute definitions, a typed value store, and the
// service façade that domain entities use to read and write open-ended
// attribute sets without touching their base tables.
package eav

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind is the closed set of storage types an attribute value may take.
type ValueKind string

const (
	KindString     ValueKind = "string"
	KindInteger    ValueKind = "integer"
	KindDecimal    ValueKind = "decimal"
	KindBoolean    ValueKind = "boolean"
	KindDate       ValueKind = "date"
	KindDateTime   ValueKind = "datetime"
	KindText       ValueKind = "text"
	KindStructured ValueKind = "structured"
)

// MaxStringLength is the storage limit for the string kind. Longer content
// must use the text or structured kind.
const MaxStringLength = 500

const dateLayout = "2006-01-02"

// IsValid reports whether k is one of the supported value kinds.
func (k ValueKind) IsValid() bool {
	switch k {
	case KindString, KindInteger, KindDecimal, KindBoolean,
		KindDate, KindDateTime, KindText, KindStructured:
		return true
	}
	return false
}

// TypedValue is the tagged union stored for one attribute occurrence.
// Exactly one slot is populated; all others stay nil.
type TypedValue struct {
	Kind     ValueKind   `json:"value_kind" db:"value_kind"`
	String   *string     `json:"value_string,omitempty" db:"value_string"`
	Integer  *int64      `json:"value_integer,omitempty" db:"value_integer"`
	Decimal  *float64    `json:"value_decimal,omitempty" db:"value_decimal"`
	Boolean  *bool       `json:"value_boolean,omitempty" db:"value_boolean"`
	Date     *time.Time  `json:"value_date,omitempty" db:"value_date"`
	DateTime *time.Time  `json:"value_datetime,omitempty" db:"value_datetime"`
	Text     *string     `json:"value_text,omitempty" db:"value_text"`
	Document RawDocument `json:"value_json,omitempty" db:"value_json"`
}

// PopulatedSlots counts the non-nil typed slots.
func (tv TypedValue) PopulatedSlots() int {
	n := 0
	for _, set := range []bool{
		tv.String != nil, tv.Integer != nil, tv.Decimal != nil, tv.Boolean != nil,
		tv.Date != nil, tv.DateTime != nil, tv.Text != nil, len(tv.Document) > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Encode converts an untyped input into the typed slot for kind. All other
// slots are left cleared so a stored row always satisfies the one-slot
// invariant.
func Encode(raw interface{}, kind ValueKind) (TypedValue, error) {
	tv := TypedValue{Kind: kind}

	if !kind.IsValid() {
		return tv, &InvalidValueError{Kind: kind, Reason: "unknown value kind"}
	}
	if raw == nil {
		return tv, &InvalidValueError{Kind: kind, Reason: "no value provided"}
	}

	switch kind {
	case KindString:
		s, err := coerceString(raw)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		s = truncateRunes(s, MaxStringLength)
		tv.String = &s

	case KindText:
		s, err := coerceString(raw)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		tv.Text = &s

	case KindInteger:
		i, err := coerceInteger(raw)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		tv.Integer = &i

	case KindDecimal:
		f, err := coerceDecimal(raw)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		tv.Decimal = &f

	case KindBoolean:
		b, err := coerceBoolean(raw)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		tv.Boolean = &b

	case KindDate:
		t, err := coerceTime(raw, dateLayout)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		tv.Date = &day

	case KindDateTime:
		t, err := coerceTime(raw, time.RFC3339)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		utc := t.UTC()
		tv.DateTime = &utc

	case KindStructured:
		doc, err := coerceDocument(raw)
		if err != nil {
			return tv, &InvalidValueError{Kind: kind, Reason: err.Error()}
		}
		tv.Document = doc
	}

	return tv, nil
}

// Decode is the exact inverse of Encode: it returns the populated slot as a
// canonical Go value (string, int64, float64, bool, time.Time or
// json.RawMessage). A row with no populated slot decodes to nil.
func (tv TypedValue) Decode() interface{} {
	switch tv.Kind {
	case KindString:
		if tv.String != nil {
			return *tv.String
		}
	case KindText:
		if tv.Text != nil {
			return *tv.Text
		}
	case KindInteger:
		if tv.Integer != nil {
			return *tv.Integer
		}
	case KindDecimal:
		if tv.Decimal != nil {
			return *tv.Decimal
		}
	case KindBoolean:
		if tv.Boolean != nil {
			return *tv.Boolean
		}
	case KindDate:
		if tv.Date != nil {
			return *tv.Date
		}
	case KindDateTime:
		if tv.DateTime != nil {
			return *tv.DateTime
		}
	case KindStructured:
		if len(tv.Document) > 0 {
			return json.RawMessage(tv.Document)
		}
	}
	return nil
}

// Equal reports whether two encoded values carry the same payload. Used by
// the migration dedupe check.
func (tv TypedValue) Equal(other TypedValue) bool {
	if tv.Kind != other.Kind {
		return false
	}
	a, b := tv.Decode(), other.Decode()
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if ad, ok := a.(json.RawMessage); ok {
		bd, ok := b.(json.RawMessage)
		return ok && string(ad) == string(bd)
	}
	return a == b
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func coerceString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int32, int64, float64, bool:
		return fmt.Sprintf("%v", v), nil
	default:
		return "", fmt.Errorf("cannot represent %T as string", raw)
	}
}

func coerceInteger(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("value %v is not integral", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", v)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot represent %T as integer", raw)
	}
}

func coerceDecimal(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a decimal", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot represent %T as decimal", raw)
	}
}

// coerceBoolean accepts the canonical truth set only: Go bools, the strings
// "true"/"false", and 0/1 in string or numeric form.
func coerceBoolean(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("value %q is not a boolean", v)
	case int:
		return intToBool(int64(v))
	case int64:
		return intToBool(v)
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
		return false, fmt.Errorf("value %v is not a boolean", v)
	default:
		return false, fmt.Errorf("cannot represent %T as boolean", raw)
	}
}

func intToBool(v int64) (bool, error) {
	if v == 0 || v == 1 {
		return v == 1, nil
	}
	return false, fmt.Errorf("value %d is not a boolean", v)
}

func coerceTime(raw interface{}, layout string) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
		// Tolerate the other temporal layout so datetime input works for
		// date attributes and vice versa.
		for _, alt := range []string{time.RFC3339, dateLayout, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(alt, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("value %q is not a valid date/time", v)
	default:
		return time.Time{}, fmt.Errorf("cannot represent %T as date/time", raw)
	}
}

func coerceDocument(raw interface{}) (RawDocument, error) {
	switch v := raw.(type) {
	case RawDocument:
		if !json.Valid(v) {
			return nil, fmt.Errorf("document payload is not valid JSON")
		}
		return v, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("document payload is not valid JSON")
		}
		return RawDocument(v), nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("document payload is not valid JSON")
		}
		return RawDocument(v), nil
	case string:
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("document payload is not valid JSON")
		}
		return RawDocument(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot serialize %T as document: %w", raw, err)
		}
		return RawDocument(b), nil
	}
}
