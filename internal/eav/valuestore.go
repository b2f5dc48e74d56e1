package eav

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Attribute Value Store
// =============================================================================

const valueColumns = `
	value_id, attribute_id, entity_type_name, entity_id, value_kind,
	value_string, value_integer, value_decimal, value_boolean,
	value_date, value_datetime, value_text, value_json,
	sort_order, deleted_at, created_at, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, entityType, entityID, attributeID string) (*AttributeValue, error) {
	var v AttributeValue
	query := `
		SELECT ` + valueColumns + `
		FROM "campus-eav".attribute_values
		WHERE entity_type_name = $1 AND entity_id = $2 AND attribute_id = $3
		  AND deleted_at IS NULL
		ORDER BY sort_order
		LIMIT 1`

	err := r.getContext(ctx, &v, query, entityType, entityID, attributeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute value: %w", err)
	}
	return &v, nil
}

func (r *PostgresRepository) GetAll(ctx context.Context, entityType, entityID, attributeID string) ([]*AttributeValue, error) {
	var values []*AttributeValue
	query := `
		SELECT ` + valueColumns + `
		FROM "campus-eav".attribute_values
		WHERE entity_type_name = $1 AND entity_id = $2 AND attribute_id = $3
		  AND deleted_at IS NULL
		ORDER BY sort_order, created_at`

	if err := r.selectContext(ctx, &values, query, entityType, entityID, attributeID); err != nil {
		return nil, fmt.Errorf("failed to list attribute values: %w", err)
	}
	return values, nil
}

func (r *PostgresRepository) ListForEntity(ctx context.Context, entityType, entityID string) ([]*AttributeValue, error) {
	var values []*AttributeValue
	query := `
		SELECT ` + valueColumns + `
		FROM "campus-eav".attribute_values
		WHERE entity_type_name = $1 AND entity_id = $2 AND deleted_at IS NULL
		ORDER BY attribute_id, sort_order, created_at`

	if err := r.selectContext(ctx, &values, query, entityType, entityID); err != nil {
		return nil, fmt.Errorf("failed to list entity values: %w", err)
	}
	return values, nil
}

// Upsert writes one occurrence. Single-valued attributes replace their
// active row in place; multi-valued attributes append (SortOrder < 0) or
// update the occurrence named by SortOrder. The value kind is part of the
// match condition, so a kind change never mutates a row in place — it
// surfaces as a conflict and must be modeled as delete + recreate.
func (r *PostgresRepository) Upsert(ctx context.Context, v *AttributeValue, multiValued bool) error {
	if v.ValueID == "" {
		v.ValueID = uuid.New().String()
	}

	if !multiValued {
		v.SortOrder = 0
		updated, err := r.updateInPlace(ctx, v, false)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}
		return r.insertValue(ctx, v)
	}

	if v.SortOrder < 0 {
		next, err := r.nextOccurrence(ctx, v)
		if err != nil {
			return err
		}
		v.SortOrder = next
		return r.insertValue(ctx, v)
	}

	updated, err := r.updateInPlace(ctx, v, true)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}
	return r.insertValue(ctx, v)
}

func (r *PostgresRepository) updateInPlace(ctx context.Context, v *AttributeValue, byOccurrence bool) (bool, error) {
	query := `
		UPDATE "campus-eav".attribute_values
		SET value_string = $5, value_integer = $6, value_decimal = $7,
		    value_boolean = $8, value_date = $9, value_datetime = $10,
		    value_text = $11, value_json = $12,
		    updated_at = (now() at time zone 'utc')
		WHERE entity_type_name = $1 AND entity_id = $2 AND attribute_id = $3
		  AND value_kind = $4 AND deleted_at IS NULL`
	args := []interface{}{
		v.EntityTypeName, v.EntityID, v.AttributeID, v.Kind,
		v.String, v.Integer, v.Decimal, v.Boolean,
		v.Date, v.DateTime, v.Text, v.Document,
	}
	if byOccurrence {
		query += ` AND sort_order = $13`
		args = append(args, v.SortOrder)
	}

	result, err := r.execContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update attribute value: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking update result: %w", err)
	}
	return affected > 0, nil
}

func (r *PostgresRepository) insertValue(ctx context.Context, v *AttributeValue) error {
	query := `
		INSERT INTO "campus-eav".attribute_values
		(value_id, attribute_id, entity_type_name, entity_id, value_kind,
		 value_string, value_integer, value_decimal, value_boolean,
		 value_date, value_datetime, value_text, value_json, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.execContext(ctx, query,
		v.ValueID, v.AttributeID, v.EntityTypeName, v.EntityID, v.Kind,
		v.String, v.Integer, v.Decimal, v.Boolean,
		v.Date, v.DateTime, v.Text, v.Document, v.SortOrder,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &ConstraintViolationError{
				AttributeID: v.AttributeID,
				EntityID:    v.EntityID,
				Reason:      "an active value already exists; retry via upsert",
			}
		}
		return fmt.Errorf("failed to insert attribute value: %w", err)
	}
	return nil
}

func (r *PostgresRepository) nextOccurrence(ctx context.Context, v *AttributeValue) (int, error) {
	var next int
	query := `
		SELECT COALESCE(MAX(sort_order) + 1, 0)
		FROM "campus-eav".attribute_values
		WHERE entity_type_name = $1 AND entity_id = $2 AND attribute_id = $3
		  AND deleted_at IS NULL`

	if err := r.getContext(ctx, &next, query, v.EntityTypeName, v.EntityID, v.AttributeID); err != nil {
		return 0, fmt.Errorf("failed to compute next occurrence: %w", err)
	}
	return next, nil
}

// DedupeCheck compares every typed slot with IS NOT DISTINCT FROM so NULL
// slots match NULL slots exactly.
func (r *PostgresRepository) DedupeCheck(ctx context.Context, attributeID, entityType, entityID string, tv TypedValue) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM "campus-eav".attribute_values
			WHERE attribute_id = $1 AND entity_type_name = $2 AND entity_id = $3
			  AND deleted_at IS NULL
			  AND value_string   IS NOT DISTINCT FROM $4
			  AND value_integer  IS NOT DISTINCT FROM $5
			  AND value_decimal  IS NOT DISTINCT FROM $6
			  AND value_boolean  IS NOT DISTINCT FROM $7
			  AND value_date     IS NOT DISTINCT FROM $8
			  AND value_datetime IS NOT DISTINCT FROM $9
			  AND value_text     IS NOT DISTINCT FROM $10
			  AND value_json::text IS NOT DISTINCT FROM $11::text
		)`

	err := r.getContext(ctx, &exists, query,
		attributeID, entityType, entityID,
		tv.String, tv.Integer, tv.Decimal, tv.Boolean,
		tv.Date, tv.DateTime, tv.Text, tv.Document,
	)
	if err != nil {
		return false, fmt.Errorf("dedupe check failed: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, entityType, entityID, attributeID string, occurrence *int) (int, error) {
	query := `
		UPDATE "campus-eav".attribute_values
		SET deleted_at = (now() at time zone 'utc'),
		    updated_at = (now() at time zone 'utc')
		WHERE entity_type_name = $1 AND entity_id = $2 AND attribute_id = $3
		  AND deleted_at IS NULL`
	args := []interface{}{entityType, entityID, attributeID}

	if occurrence != nil {
		query += ` AND sort_order = $4`
		args = append(args, *occurrence)
	}

	result, err := r.execContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete attribute value: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error checking soft-delete result: %w", err)
	}
	return int(affected), nil
}

func (r *PostgresRepository) SoftDeleteByNamePrefix(ctx context.Context, entityTypeName, namePrefix string) (int, error) {
	query := `
		UPDATE "campus-eav".attribute_values v
		SET deleted_at = (now() at time zone 'utc'),
		    updated_at = (now() at time zone 'utc')
		FROM "campus-eav".attribute_definitions d
		WHERE v.attribute_id = d.attribute_id
		  AND v.entity_type_name = $1
		  AND d.name LIKE $2
		  AND v.deleted_at IS NULL`

	result, err := r.execContext(ctx, query, entityTypeName, namePrefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete values by prefix: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error checking soft-delete result: %w", err)
	}
	return int(affected), nil
}
