package eav

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Attribute Definition Catalog
// =============================================================================

const entityTypeColumns = `
	entity_type_id, name, table_name, active, deleted_at, created_at, updated_at`

const attributeColumns = `
	attribute_id, entity_type_id, name, display_name, description, value_kind,
	required, multi_valued, default_value, validation_rules, category,
	sort_order, active, deleted_at, created_at, updated_at`

func (r *PostgresRepository) EnsureEntityType(ctx context.Context, name, tableName string) (string, error) {
	existing, err := r.GetEntityType(ctx, name)
	if err != nil && !errors.Is(err, ErrEntityTypeNotFound) {
		return "", err
	}
	if existing != nil {
		return existing.EntityTypeID, nil
	}

	id := uuid.New().String()
	query := `
		INSERT INTO "campus-eav".entity_types (entity_type_id, name, table_name, active)
		VALUES ($1, $2, $3, true)`

	if _, err := r.execContext(ctx, query, id, name, tableName); err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent bootstrap; the winner's row is
			// the one we want.
			if existing, getErr := r.GetEntityType(ctx, name); getErr == nil {
				return existing.EntityTypeID, nil
			}
		}
		return "", fmt.Errorf("failed to create entity type %s: %w", name, err)
	}
	return id, nil
}

func (r *PostgresRepository) GetEntityType(ctx context.Context, name string) (*EntityType, error) {
	var et EntityType
	query := `
		SELECT ` + entityTypeColumns + `
		FROM "campus-eav".entity_types
		WHERE name = $1 AND deleted_at IS NULL`

	err := r.getContext(ctx, &et, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntityTypeNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity type %s: %w", name, err)
	}
	return &et, nil
}

func (r *PostgresRepository) EnsureAttribute(ctx context.Context, entityTypeID string, spec AttributeSpec) (string, error) {
	if !spec.Kind.IsValid() {
		return "", &SchemaError{Attribute: spec.Name,
			Reason: fmt.Sprintf("unknown value kind %q", spec.Kind)}
	}

	existing, err := r.GetAttribute(ctx, entityTypeID, spec.Name)
	if err != nil && !errors.Is(err, ErrAttributeNotFound) {
		return "", err
	}
	if existing != nil {
		// Idempotent: never overwrite an existing definition's rules.
		return existing.AttributeID, nil
	}

	id := uuid.New().String()
	query := `
		INSERT INTO "campus-eav".attribute_definitions
		(attribute_id, entity_type_id, name, display_name, description, value_kind,
		 required, multi_valued, default_value, validation_rules, category, sort_order, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, true)`

	_, err = r.execContext(ctx, query,
		id, entityTypeID, spec.Name, spec.DisplayName,
		nullableString(spec.Description), spec.Kind,
		spec.Required, spec.MultiValued,
		nullableString(spec.DefaultValue), spec.ValidationRules,
		nullableString(spec.Category), spec.SortOrder,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if existing, getErr := r.GetAttribute(ctx, entityTypeID, spec.Name); getErr == nil {
				return existing.AttributeID, nil
			}
		}
		return "", fmt.Errorf("failed to create attribute %s: %w", spec.Name, err)
	}
	return id, nil
}

func (r *PostgresRepository) GetAttribute(ctx context.Context, entityTypeID, name string) (*AttributeDefinition, error) {
	var def AttributeDefinition
	query := `
		SELECT ` + attributeColumns + `
		FROM "campus-eav".attribute_definitions
		WHERE entity_type_id = $1 AND name = $2 AND active = true AND deleted_at IS NULL`

	err := r.getContext(ctx, &def, query, entityTypeID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAttributeNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute %s: %w", name, err)
	}
	return &def, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, entityTypeID, category string) ([]*AttributeDefinition, error) {
	var defs []*AttributeDefinition

	query := `
		SELECT ` + attributeColumns + `
		FROM "campus-eav".attribute_definitions
		WHERE entity_type_id = $1 AND active = true AND deleted_at IS NULL`
	args := []interface{}{entityTypeID}

	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	query += ` ORDER BY sort_order, name`

	if err := r.selectContext(ctx, &defs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	return defs, nil
}

func (r *PostgresRepository) SoftDeleteAttributes(ctx context.Context, entityTypeID, namePattern string) (int, error) {
	query := `
		UPDATE "campus-eav".attribute_definitions
		SET active = false, deleted_at = (now() at time zone 'utc'),
		    updated_at = (now() at time zone 'utc')
		WHERE entity_type_id = $1 AND name LIKE $2 AND deleted_at IS NULL`

	result, err := r.execContext(ctx, query, entityTypeID, namePattern)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete attributes: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error checking soft-delete result: %w", err)
	}
	return int(affected), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
