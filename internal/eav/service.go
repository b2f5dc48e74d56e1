package eav

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Service is the EAV façade: entity-level read/write operations combining
// the catalog, codec, validation engine and value store.
type Service struct {
	repo   Repository
	cache  DefinitionCache
	legacy LegacyReader
	log    *zap.Logger
}

// NewService creates the façade. cache and legacy may be nil: without a
// cache every read hits the catalog, and without a legacy reader the
// per-instance rollout flag is ignored and all reads come from the value
// store.
func NewService(repo Repository, cache DefinitionCache, legacy LegacyReader, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, cache: cache, legacy: legacy, log: log}
}

// GetProfile returns the entity's attribute-name-to-decoded-value mapping.
// Multi-valued attributes decode to an ordered slice; attributes with no
// stored value but a declared default appear with the default decoded per
// kind. Instances still outside the rollout window read from the legacy
// source instead.
func (s *Service) GetProfile(ctx context.Context, entityType, entityID, category string) (map[string]interface{}, error) {
	if s.legacy != nil {
		enabled, err := s.repo.IsEnabled(ctx, entityType, entityID)
		if err != nil {
			return nil, err
		}
		if !enabled {
			s.log.Debug("profile read falling back to legacy source",
				zap.String("entity_type", entityType), zap.String("entity_id", entityID))
			return s.legacy.ReadProfile(ctx, entityType, entityID)
		}
	}

	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return nil, err
	}
	defs, err := s.listDefinitions(ctx, et.EntityTypeID, category)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.ListForEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	byAttribute := make(map[string][]*AttributeValue)
	for _, v := range stored {
		byAttribute[v.AttributeID] = append(byAttribute[v.AttributeID], v)
	}

	profile := make(map[string]interface{}, len(defs))
	for _, def := range defs {
		values := byAttribute[def.AttributeID]
		switch {
		case len(values) == 0:
			if def.DefaultValue != nil {
				if decoded, ok := decodeDefault(*def.DefaultValue, def.Kind); ok {
					profile[def.Name] = decoded
				}
			}
		case def.MultiValued:
			decoded := make([]interface{}, 0, len(values))
			for _, v := range values {
				decoded = append(decoded, v.Decode())
			}
			profile[def.Name] = decoded
		default:
			profile[def.Name] = values[0].Decode()
		}
	}
	return profile, nil
}

// SetAttribute validates, encodes and upserts one attribute value.
func (s *Service) SetAttribute(ctx context.Context, entityType, entityID, attributeName string, raw interface{}) error {
	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return err
	}
	def, err := s.repo.GetAttribute(ctx, et.EntityTypeID, attributeName)
	if err != nil {
		return err
	}
	return s.writeValue(ctx, entityType, entityID, def, raw)
}

// BulkUpdate writes every field independently: one field's failure does not
// block the others, and the caller gets a result per field in name order.
func (s *Service) BulkUpdate(ctx context.Context, entityType, entityID string, fields map[string]interface{}) ([]FieldResult, error) {
	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]FieldResult, 0, len(names))
	for _, name := range names {
		def, defErr := s.repo.GetAttribute(ctx, et.EntityTypeID, name)
		if defErr != nil {
			results = append(results, FieldResult{Name: name, Error: defErr})
			continue
		}
		if writeErr := s.writeValue(ctx, entityType, entityID, def, fields[name]); writeErr != nil {
			results = append(results, FieldResult{Name: name, Error: writeErr})
			continue
		}
		results = append(results, FieldResult{Name: name})
	}
	return results, nil
}

// DeleteAttribute soft-deletes every occurrence of one attribute for the
// entity instance.
func (s *Service) DeleteAttribute(ctx context.Context, entityType, entityID, attributeName string) error {
	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return err
	}
	def, err := s.repo.GetAttribute(ctx, et.EntityTypeID, attributeName)
	if err != nil {
		return err
	}
	deleted, err := s.repo.SoftDelete(ctx, entityType, entityID, def.AttributeID, nil)
	if err != nil {
		return err
	}
	s.log.Info("attribute deleted",
		zap.String("entity_type", entityType), zap.String("entity_id", entityID),
		zap.String("attribute", attributeName), zap.Int("occurrences", deleted))
	return nil
}

// InitializeDefaults seeds default values for every active attribute in a
// category, skipping attributes the instance already has a value for. Used
// for role-specific onboarding.
func (s *Service) InitializeDefaults(ctx context.Context, entityType, entityID, category string) error {
	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return err
	}
	defs, err := s.listDefinitions(ctx, et.EntityTypeID, category)
	if err != nil {
		return err
	}

	for _, def := range defs {
		if def.DefaultValue == nil {
			continue
		}
		existing, getErr := s.repo.Get(ctx, entityType, entityID, def.AttributeID)
		if getErr != nil {
			return getErr
		}
		if existing != nil {
			continue
		}
		if writeErr := s.writeValue(ctx, entityType, entityID, def, *def.DefaultValue); writeErr != nil {
			s.log.Warn("skipping default with invalid value",
				zap.String("attribute", def.Name), zap.Error(writeErr))
		}
	}
	return nil
}

// SetEnabled flips the per-instance rollout flag. While disabled, profile
// reads fall back to the legacy denormalized source.
func (s *Service) SetEnabled(ctx context.Context, entityType, entityID string, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, entityType, entityID, enabled); err != nil {
		return err
	}
	s.log.Info("eav rollout flag updated",
		zap.String("entity_type", entityType), zap.String("entity_id", entityID),
		zap.Bool("enabled", enabled))
	return nil
}

// DefineAttribute registers a new attribute for an entity type. Idempotent
// by name; the catalog cache for the type is invalidated.
func (s *Service) DefineAttribute(ctx context.Context, entityType string, spec AttributeSpec) (string, error) {
	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return "", err
	}
	id, err := s.repo.EnsureAttribute(ctx, et.EntityTypeID, spec)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Invalidate(et.EntityTypeID)
	}
	return id, nil
}

// DecommissionAttributes soft-deletes catalog definitions matching a SQL
// LIKE pattern. Stored values stay in place for audit.
func (s *Service) DecommissionAttributes(ctx context.Context, entityType, namePattern string) (int, error) {
	et, err := s.repo.GetEntityType(ctx, entityType)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.SoftDeleteAttributes(ctx, et.EntityTypeID, namePattern)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		s.cache.Invalidate(et.EntityTypeID)
	}
	return n, nil
}

// writeValue is the shared validate-then-persist sequence. It never writes
// a partially validated value.
func (s *Service) writeValue(ctx context.Context, entityType, entityID string, def *AttributeDefinition, raw interface{}) error {
	if raw == nil {
		if def.Required {
			return &ValidationError{Attribute: def.Name, Rule: "required",
				Reason: "value is required"}
		}
		return &InvalidValueError{Kind: def.Kind, Reason: "no value provided"}
	}

	tv, err := Encode(raw, def.Kind)
	if err != nil {
		return err
	}
	if err := Validate(tv, def); err != nil {
		return err
	}

	value := &AttributeValue{
		AttributeID:    def.AttributeID,
		EntityTypeName: entityType,
		EntityID:       entityID,
		TypedValue:     tv,
		SortOrder:      -1,
	}
	if err := s.repo.Upsert(ctx, value, def.MultiValued); err != nil {
		return err
	}
	s.log.Debug("attribute written",
		zap.String("entity_type", entityType), zap.String("entity_id", entityID),
		zap.String("attribute", def.Name), zap.String("kind", string(def.Kind)))
	return nil
}

func (s *Service) listDefinitions(ctx context.Context, entityTypeID, category string) ([]*AttributeDefinition, error) {
	if s.cache != nil {
		if defs, ok := s.cache.Get(entityTypeID, category); ok {
			return defs, nil
		}
	}
	defs, err := s.repo.ListActive(ctx, entityTypeID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(entityTypeID, category, defs)
	}
	return defs, nil
}

func decodeDefault(text string, kind ValueKind) (interface{}, bool) {
	tv, err := Encode(text, kind)
	if err != nil {
		return nil, false
	}
	return tv.Decode(), true
}
