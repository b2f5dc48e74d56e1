package eav

import (
	"context"
	"time"
)

// =============================================================================
// Core Database Models
// =============================================================================

// EntityType represents a domain entity kind that may carry EAV attributes.
// At most one non-deleted row exists per name.
type EntityType struct {
	EntityTypeID string     `json:"entity_type_id" db:"entity_type_id"`
	Name         string     `json:"name" db:"name"`
	TableName    string     `json:"table_name" db:"table_name"`
	Active       bool       `json:"active" db:"active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// AttributeDefinition is the schema for one attribute of one entity type.
// At most one active row exists per (entity type, name).
type AttributeDefinition struct {
	AttributeID     string          `json:"attribute_id" db:"attribute_id"`
	EntityTypeID    string          `json:"entity_type_id" db:"entity_type_id"`
	Name            string          `json:"name" db:"name"`
	DisplayName     string          `json:"display_name" db:"display_name"`
	Description     *string         `json:"description,omitempty" db:"description"`
	Kind            ValueKind       `json:"value_kind" db:"value_kind"`
	Required        bool            `json:"required" db:"required"`
	MultiValued     bool            `json:"multi_valued" db:"multi_valued"`
	DefaultValue    *string         `json:"default_value,omitempty" db:"default_value"`
	ValidationRules ValidationRules `json:"validation_rules" db:"validation_rules"`
	Category        *string         `json:"category,omitempty" db:"category"`
	SortOrder       int             `json:"sort_order" db:"sort_order"`
	Active          bool            `json:"active" db:"active"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// AttributeValue is one stored occurrence of one attribute for one entity
// instance. The entity type name is denormalized for query locality; the
// value kind is copied from the definition at write time.
type AttributeValue struct {
	ValueID        string `json:"value_id" db:"value_id"`
	AttributeID    string `json:"attribute_id" db:"attribute_id"`
	EntityTypeName string `json:"entity_type_name" db:"entity_type_name"`
	EntityID       string `json:"entity_id" db:"entity_id"`
	TypedValue
	SortOrder int        `json:"sort_order" db:"sort_order"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// MigrationLog is the append-only audit record written at the end of every
// migration run, dry runs included. Never updated or deleted.
type MigrationLog struct {
	LogID             string    `json:"log_id" db:"log_id"`
	Name              string    `json:"name" db:"name"`
	Version           string    `json:"version" db:"version"`
	DryRun            bool      `json:"dry_run" db:"dry_run"`
	EntitiesProcessed int       `json:"entities_processed" db:"entities_processed"`
	ValuesCreated     int       `json:"values_created" db:"values_created"`
	ErrorCount        int       `json:"error_count" db:"error_count"`
	Notes             *string   `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// LegacySourceState tracks the read-only fallback window for a migrated
// legacy blob column.
type LegacySourceState struct {
	EntityTypeName string     `json:"entity_type_name" db:"entity_type_name"`
	SourceName     string     `json:"source_name" db:"source_name"`
	ReadOnly       bool       `json:"read_only" db:"read_only"`
	FallbackUntil  *time.Time `json:"fallback_until,omitempty" db:"fallback_until"`
	Notes          *string    `json:"notes,omitempty" db:"notes"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// AttributeSpec is the input to EnsureAttribute: everything an administrator
// (or the migration bootstrap) declares about a new attribute.
type AttributeSpec struct {
	Name            string          `json:"name"`
	DisplayName     string          `json:"display_name"`
	Description     string          `json:"description,omitempty"`
	Kind            ValueKind       `json:"value_kind"`
	Required        bool            `json:"required"`
	MultiValued     bool            `json:"multi_valued"`
	DefaultValue    string          `json:"default_value,omitempty"`
	ValidationRules ValidationRules `json:"validation_rules"`
	Category        string          `json:"category,omitempty"`
	SortOrder       int             `json:"sort_order"`
}

// FieldResult is one entry of a bulk update's per-field result list.
type FieldResult struct {
	Name  string `json:"name"`
	Error error  `json:"error,omitempty"`
}

// OK reports whether the field was written.
func (r FieldResult) OK() bool { return r.Error == nil }

// =============================================================================
// Repository Interfaces
// =============================================================================

// CatalogRepository is the attribute definition catalog: the registry of
// which attributes exist for which entity type.
type CatalogRepository interface {
	// EnsureEntityType returns the active entity type id for name, creating
	// the row if it does not exist. Idempotent.
	EnsureEntityType(ctx context.Context, name, tableName string) (string, error)
	GetEntityType(ctx context.Context, name string) (*EntityType, error)

	// EnsureAttribute is idempotent by (entity type, name): an existing
	// active definition is returned unchanged, never overwritten.
	EnsureAttribute(ctx context.Context, entityTypeID string, spec AttributeSpec) (string, error)
	GetAttribute(ctx context.Context, entityTypeID, name string) (*AttributeDefinition, error)

	// ListActive returns active definitions ordered by sort order, optionally
	// filtered by category.
	ListActive(ctx context.Context, entityTypeID, category string) ([]*AttributeDefinition, error)

	// SoftDeleteAttributes marks active definitions matching the SQL LIKE
	// pattern deleted and returns how many rows changed. Existing values are
	// untouched.
	SoftDeleteAttributes(ctx context.Context, entityTypeID, namePattern string) (int, error)
}

// ValueRepository is the attribute value store: one logical row per
// (entity instance, attribute, occurrence). Reads exclude soft-deleted rows;
// no operation physically removes one.
type ValueRepository interface {
	Get(ctx context.Context, entityType, entityID, attributeID string) (*AttributeValue, error)
	GetAll(ctx context.Context, entityType, entityID, attributeID string) ([]*AttributeValue, error)
	ListForEntity(ctx context.Context, entityType, entityID string) ([]*AttributeValue, error)

	// Upsert replaces the active value for a single-valued attribute, or
	// appends/updates an occurrence for a multi-valued one.
	Upsert(ctx context.Context, value *AttributeValue, multiValued bool) error

	// DedupeCheck reports whether an identical active value already exists.
	// Migration re-runs use it to stay idempotent.
	DedupeCheck(ctx context.Context, attributeID, entityType, entityID string, tv TypedValue) (bool, error)

	// SoftDelete marks one occurrence (or all, when occurrence is nil)
	// deleted and returns how many rows changed.
	SoftDelete(ctx context.Context, entityType, entityID, attributeID string, occurrence *int) (int, error)

	// SoftDeleteByNamePrefix marks every active value deleted whose
	// definition name matches the prefix. Used by migration rollback.
	SoftDeleteByNamePrefix(ctx context.Context, entityTypeName, namePrefix string) (int, error)
}

// FlagRepository is the per-instance rollout flag for gradual EAV adoption.
type FlagRepository interface {
	SetEnabled(ctx context.Context, entityType, entityID string, enabled bool) error
	IsEnabled(ctx context.Context, entityType, entityID string) (bool, error)
}

// AuditRepository persists migration audit artifacts.
type AuditRepository interface {
	AppendMigrationLog(ctx context.Context, entry *MigrationLog) error
	MarkLegacyReadOnly(ctx context.Context, state *LegacySourceState) error
	RestoreLegacySource(ctx context.Context, entityTypeName, sourceName string) error
}

// Repository combines all EAV database operations with transaction support.
type Repository interface {
	CatalogRepository
	ValueRepository
	FlagRepository
	AuditRepository

	BeginTx(ctx context.Context) (Repository, error)
	Commit() error
	Rollback() error
}

// DefinitionCache caches active definitions per entity type. The catalog is
// read-mostly; writers must invalidate after every catalog mutation.
type DefinitionCache interface {
	Get(entityTypeID, category string) ([]*AttributeDefinition, bool)
	Set(entityTypeID, category string, defs []*AttributeDefinition)
	Invalidate(entityTypeID string)
}

// LegacyReader reads an entity's profile from the legacy denormalized source.
// The service falls back to it while an instance has EAV disabled.
type LegacyReader interface {
	ReadProfile(ctx context.Context, entityType, entityID string) (map[string]interface{}, error)
}
