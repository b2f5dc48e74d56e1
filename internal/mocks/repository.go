// Package mocks provides an in-memory eav.Repository with the same
// semantics as the PostgreSQL implementation, including transaction
// snapshots. Service and migration tests run against it without a database.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campus-eav/internal/eav"
)

// MemoryRepository implements eav.Repository over plain maps.
type MemoryRepository struct {
	mu sync.Mutex

	entityTypes  map[string]*eav.EntityType          // by id
	definitions  map[string]*eav.AttributeDefinition // by id
	values       map[string]*eav.AttributeValue      // by id
	flags        map[string]bool                     // entityType/entityID
	logs         []*eav.MigrationLog
	legacyStates map[string]*eav.LegacySourceState // entityType/sourceName

	parent *MemoryRepository // non-nil when this repository is a transaction
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entityTypes:  make(map[string]*eav.EntityType),
		definitions:  make(map[string]*eav.AttributeDefinition),
		values:       make(map[string]*eav.AttributeValue),
		flags:        make(map[string]bool),
		legacyStates: make(map[string]*eav.LegacySourceState),
	}
}

// =============================================================================
// Transaction Support
// =============================================================================

func (m *MemoryRepository) BeginTx(ctx context.Context) (eav.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.cloneLocked()
	snapshot.parent = m
	return snapshot, nil
}

func (m *MemoryRepository) Commit() error {
	if m.parent == nil {
		return fmt.Errorf("no active transaction")
	}
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := m.cloneLocked()
	m.parent.entityTypes = replaced.entityTypes
	m.parent.definitions = replaced.definitions
	m.parent.values = replaced.values
	m.parent.flags = replaced.flags
	m.parent.logs = replaced.logs
	m.parent.legacyStates = replaced.legacyStates
	return nil
}

func (m *MemoryRepository) Rollback() error {
	if m.parent == nil {
		return fmt.Errorf("no active transaction")
	}
	// Discard: the snapshot simply goes out of use.
	return nil
}

func (m *MemoryRepository) cloneLocked() *MemoryRepository {
	clone := NewMemoryRepository()
	for id, et := range m.entityTypes {
		copied := *et
		clone.entityTypes[id] = &copied
	}
	for id, def := range m.definitions {
		copied := *def
		clone.definitions[id] = &copied
	}
	for id, v := range m.values {
		copied := *v
		clone.values[id] = &copied
	}
	for k, v := range m.flags {
		clone.flags[k] = v
	}
	for k, s := range m.legacyStates {
		copied := *s
		clone.legacyStates[k] = &copied
	}
	clone.logs = append(clone.logs, m.logs...)
	return clone
}

// =============================================================================
// Catalog
// =============================================================================

func (m *MemoryRepository) EnsureEntityType(ctx context.Context, name, tableName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, et := range m.entityTypes {
		if et.Name == name && et.DeletedAt == nil {
			return et.EntityTypeID, nil
		}
	}
	et := &eav.EntityType{
		EntityTypeID: uuid.New().String(),
		Name:         name,
		TableName:    tableName,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.entityTypes[et.EntityTypeID] = et
	return et.EntityTypeID, nil
}

func (m *MemoryRepository) GetEntityType(ctx context.Context, name string) (*eav.EntityType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, et := range m.entityTypes {
		if et.Name == name && et.DeletedAt == nil {
			copied := *et
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", eav.ErrEntityTypeNotFound, name)
}

func (m *MemoryRepository) EnsureAttribute(ctx context.Context, entityTypeID string, spec eav.AttributeSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !spec.Kind.IsValid() {
		return "", &eav.SchemaError{Attribute: spec.Name,
			Reason: fmt.Sprintf("unknown value kind %q", spec.Kind)}
	}
	for _, def := range m.definitions {
		if def.EntityTypeID == entityTypeID && def.Name == spec.Name &&
			def.Active && def.DeletedAt == nil {
			return def.AttributeID, nil
		}
	}
	def := &eav.AttributeDefinition{
		AttributeID:     uuid.New().String(),
		EntityTypeID:    entityTypeID,
		Name:            spec.Name,
		DisplayName:     spec.DisplayName,
		Kind:            spec.Kind,
		Required:        spec.Required,
		MultiValued:     spec.MultiValued,
		ValidationRules: spec.ValidationRules,
		SortOrder:       spec.SortOrder,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if spec.Description != "" {
		def.Description = &spec.Description
	}
	if spec.DefaultValue != "" {
		def.DefaultValue = &spec.DefaultValue
	}
	if spec.Category != "" {
		def.Category = &spec.Category
	}
	m.definitions[def.AttributeID] = def
	return def.AttributeID, nil
}

func (m *MemoryRepository) GetAttribute(ctx context.Context, entityTypeID, name string) (*eav.AttributeDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range m.definitions {
		if def.EntityTypeID == entityTypeID && def.Name == name &&
			def.Active && def.DeletedAt == nil {
			copied := *def
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", eav.ErrAttributeNotFound, name)
}

func (m *MemoryRepository) ListActive(ctx context.Context, entityTypeID, category string) ([]*eav.AttributeDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var defs []*eav.AttributeDefinition
	for _, def := range m.definitions {
		if def.EntityTypeID != entityTypeID || !def.Active || def.DeletedAt != nil {
			continue
		}
		if category != "" && (def.Category == nil || *def.Category != category) {
			continue
		}
		copied := *def
		defs = append(defs, &copied)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].SortOrder != defs[j].SortOrder {
			return defs[i].SortOrder < defs[j].SortOrder
		}
		return defs[i].Name < defs[j].Name
	})
	return defs, nil
}

func (m *MemoryRepository) SoftDeleteAttributes(ctx context.Context, entityTypeID, namePattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, def := range m.definitions {
		if def.EntityTypeID == entityTypeID && def.DeletedAt == nil &&
			matchLike(def.Name, namePattern) {
			def.Active = false
			def.DeletedAt = &now
			def.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// =============================================================================
// Value Store
// =============================================================================

func (m *MemoryRepository) Get(ctx context.Context, entityType, entityID, attributeID string) (*eav.AttributeValue, error) {
	all, err := m.GetAll(ctx, entityType, entityID, attributeID)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (m *MemoryRepository) GetAll(ctx context.Context, entityType, entityID, attributeID string) ([]*eav.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var values []*eav.AttributeValue
	for _, v := range m.values {
		if v.EntityTypeName == entityType && v.EntityID == entityID &&
			v.AttributeID == attributeID && v.DeletedAt == nil {
			copied := *v
			values = append(values, &copied)
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i].SortOrder < values[j].SortOrder })
	return values, nil
}

func (m *MemoryRepository) ListForEntity(ctx context.Context, entityType, entityID string) ([]*eav.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var values []*eav.AttributeValue
	for _, v := range m.values {
		if v.EntityTypeName == entityType && v.EntityID == entityID && v.DeletedAt == nil {
			copied := *v
			values = append(values, &copied)
		}
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].AttributeID != values[j].AttributeID {
			return values[i].AttributeID < values[j].AttributeID
		}
		return values[i].SortOrder < values[j].SortOrder
	})
	return values, nil
}

func (m *MemoryRepository) Upsert(ctx context.Context, v *eav.AttributeValue, multiValued bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ValueID == "" {
		v.ValueID = uuid.New().String()
	}
	now := time.Now().UTC()

	if !multiValued {
		v.SortOrder = 0
	}
	if multiValued && v.SortOrder < 0 {
		next := 0
		for _, existing := range m.values {
			if existing.AttributeID == v.AttributeID && existing.EntityID == v.EntityID &&
				existing.EntityTypeName == v.EntityTypeName && existing.DeletedAt == nil &&
				existing.SortOrder >= next {
				next = existing.SortOrder + 1
			}
		}
		v.SortOrder = next
		return m.insertLocked(v, now)
	}

	// Update in place when an active row with the same kind exists.
	for _, existing := range m.values {
		if existing.AttributeID == v.AttributeID && existing.EntityID == v.EntityID &&
			existing.EntityTypeName == v.EntityTypeName && existing.DeletedAt == nil &&
			existing.Kind == v.Kind &&
			(!multiValued || existing.SortOrder == v.SortOrder) {
			existing.TypedValue = v.TypedValue
			existing.UpdatedAt = now
			return nil
		}
	}
	return m.insertLocked(v, now)
}

func (m *MemoryRepository) insertLocked(v *eav.AttributeValue, now time.Time) error {
	for _, existing := range m.values {
		if existing.AttributeID == v.AttributeID && existing.EntityID == v.EntityID &&
			existing.EntityTypeName == v.EntityTypeName && existing.DeletedAt == nil &&
			existing.SortOrder == v.SortOrder {
			return &eav.ConstraintViolationError{
				AttributeID: v.AttributeID,
				EntityID:    v.EntityID,
				Reason:      "an active value already exists; retry via upsert",
			}
		}
	}
	copied := *v
	copied.CreatedAt = now
	copied.UpdatedAt = now
	m.values[copied.ValueID] = &copied
	return nil
}

func (m *MemoryRepository) DedupeCheck(ctx context.Context, attributeID, entityType, entityID string, tv eav.TypedValue) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.values {
		if v.AttributeID == attributeID && v.EntityTypeName == entityType &&
			v.EntityID == entityID && v.DeletedAt == nil && v.TypedValue.Equal(tv) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) SoftDelete(ctx context.Context, entityType, entityID, attributeID string, occurrence *int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, v := range m.values {
		if v.EntityTypeName == entityType && v.EntityID == entityID &&
			v.AttributeID == attributeID && v.DeletedAt == nil &&
			(occurrence == nil || v.SortOrder == *occurrence) {
			v.DeletedAt = &now
			v.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) SoftDeleteByNamePrefix(ctx context.Context, entityTypeName, namePrefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, v := range m.values {
		if v.EntityTypeName != entityTypeName || v.DeletedAt != nil {
			continue
		}
		def, ok := m.definitions[v.AttributeID]
		if !ok || !strings.HasPrefix(def.Name, namePrefix) {
			continue
		}
		v.DeletedAt = &now
		v.UpdatedAt = now
		count++
	}
	return count, nil
}

// =============================================================================
// Flags + Audit
// =============================================================================

func (m *MemoryRepository) SetEnabled(ctx context.Context, entityType, entityID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[entityType+"/"+entityID] = enabled
	return nil
}

func (m *MemoryRepository) IsEnabled(ctx context.Context, entityType, entityID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[entityType+"/"+entityID], nil
}

func (m *MemoryRepository) AppendMigrationLog(ctx context.Context, entry *eav.MigrationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	copied := *entry
	m.logs = append(m.logs, &copied)
	return nil
}

func (m *MemoryRepository) MarkLegacyReadOnly(ctx context.Context, state *eav.LegacySourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	copied.ReadOnly = true
	copied.UpdatedAt = time.Now().UTC()
	m.legacyStates[state.EntityTypeName+"/"+state.SourceName] = &copied
	return nil
}

func (m *MemoryRepository) RestoreLegacySource(ctx context.Context, entityTypeName, sourceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.legacyStates[entityTypeName+"/"+sourceName]; ok {
		state.ReadOnly = false
		state.FallbackUntil = nil
		state.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// =============================================================================
// Test Inspection Helpers
// =============================================================================

// ActiveValueCount counts non-deleted value rows.
func (m *MemoryRepository) ActiveValueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, v := range m.values {
		if v.DeletedAt == nil {
			count++
		}
	}
	return count
}

// ActiveValuesByName returns non-deleted values for one attribute name in
// occurrence order.
func (m *MemoryRepository) ActiveValuesByName(name string) []*eav.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	var attrID string
	for _, def := range m.definitions {
		if def.Name == name {
			attrID = def.AttributeID
			break
		}
	}
	var values []*eav.AttributeValue
	for _, v := range m.values {
		if v.AttributeID == attrID && v.DeletedAt == nil {
			copied := *v
			values = append(values, &copied)
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i].SortOrder < values[j].SortOrder })
	return values
}

// EntityTypeCount counts non-deleted entity types.
func (m *MemoryRepository) EntityTypeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, et := range m.entityTypes {
		if et.DeletedAt == nil {
			count++
		}
	}
	return count
}

// ActiveDefinitionCount counts active, non-deleted definitions.
func (m *MemoryRepository) ActiveDefinitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, def := range m.definitions {
		if def.Active && def.DeletedAt == nil {
			count++
		}
	}
	return count
}

// MigrationLogs returns the append-only run log.
func (m *MemoryRepository) MigrationLogs() []*eav.MigrationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eav.MigrationLog(nil), m.logs...)
}

// LegacyState returns the fallback registry entry, or nil.
func (m *MemoryRepository) LegacyState(entityTypeName, sourceName string) *eav.LegacySourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.legacyStates[entityTypeName+"/"+sourceName]; ok {
		copied := *state
		return &copied
	}
	return nil
}

// matchLike supports the two LIKE shapes the engine uses: an exact name or a
// prefix ending in %.
func matchLike(name, pattern string) bool {
	if strings.HasSuffix(pattern, "%") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "%"))
	}
	return name == pattern
}
