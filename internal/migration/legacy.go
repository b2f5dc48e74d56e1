// Package migration moves legacy denormalized blob columns into the EAV
// store and can reverse the move. It is an offline administrative batch
// process: one run, one transaction, one audit log entry.
package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"campus-eav/internal/eav"
)

// Record is one legacy entity row: the instance id and the repeating blocks
// parsed out of its blob column. A blob that failed to parse carries the
// parse error instead of blocks so the engine can record it per entity
// without aborting the run.
type Record struct {
	EntityID string
	Blocks   []map[string]interface{}
	Err      error
}

// LegacySource is the external collaborator that owns the denormalized blob
// column being migrated.
type LegacySource interface {
	// EntityTypeName is the catalog name the migrated values belong to,
	// e.g. "Instructor".
	EntityTypeName() string
	// TableName is the backing-table reference stored on the entity type.
	TableName() string
	// SourceName identifies the blob column for the read-only fallback
	// registry, e.g. "instructors.awards".
	SourceName() string
	// Records reads every legacy row once. The migration engine never
	// writes back through this interface.
	Records(ctx context.Context) ([]Record, error)
}

// fieldMapping resolves one logical EAV attribute from a legacy block. Legacy
// data accumulated several historical key names per field; the first synonym
// with a non-empty value wins.
type fieldMapping struct {
	Attribute string
	Synonyms  []string
}

var awardFields = []fieldMapping{
	{Attribute: "award_title", Synonyms: []string{"title", "name", "award_name"}},
	{Attribute: "award_year", Synonyms: []string{"year", "award_year", "date_year"}},
	{Attribute: "award_organization", Synonyms: []string{"organization", "org", "issuer"}},
	{Attribute: "award_description", Synonyms: []string{"description", "desc", "details"}},
}

// resolveField returns the first non-empty synonym match. Absent fields are
// skipped entirely rather than stored as empty values.
func resolveField(block map[string]interface{}, m fieldMapping) (interface{}, bool) {
	for _, key := range m.Synonyms {
		v, ok := block[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// ParseAwardBlob decodes a legacy awards blob. Accepts either a JSON array
// of award objects or a single bare object. Numbers decode as json.Number so
// integer years survive without float rounding.
func ParseAwardBlob(blob []byte) ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '{' {
		var single map[string]interface{}
		if err := dec.Decode(&single); err != nil {
			return nil, fmt.Errorf("failed to parse legacy blob: %w", err)
		}
		return []map[string]interface{}{single}, nil
	}

	var blocks []map[string]interface{}
	if err := dec.Decode(&blocks); err != nil {
		return nil, fmt.Errorf("failed to parse legacy blob: %w", err)
	}
	return blocks, nil
}

// PostgresAwardSource reads instructor award blobs from the host entity
// table. It doubles as the service's legacy fallback reader during the
// fallback window.
type PostgresAwardSource struct {
	db         *sqlx.DB
	entityType string
	table      string
	idColumn   string
	blobColumn string
}

// NewPostgresAwardSource creates a source over table.blobColumn keyed by
// idColumn.
func NewPostgresAwardSource(db *sqlx.DB, entityType, table, idColumn, blobColumn string) *PostgresAwardSource {
	return &PostgresAwardSource{
		db:         db,
		entityType: entityType,
		table:      table,
		idColumn:   idColumn,
		blobColumn: blobColumn,
	}
}

func (s *PostgresAwardSource) EntityTypeName() string { return s.entityType }
func (s *PostgresAwardSource) TableName() string      { return s.table }

func (s *PostgresAwardSource) SourceName() string {
	return fmt.Sprintf("%s.%s", s.table, s.blobColumn)
}

func (s *PostgresAwardSource) Records(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(
		`SELECT %s::text AS entity_id, %s AS blob FROM %s WHERE %s IS NOT NULL`,
		s.idColumn, s.blobColumn, s.table, s.blobColumn)

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy source %s: %w", s.SourceName(), err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			entityID string
			blob     []byte
		)
		if err := rows.Scan(&entityID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan legacy row: %w", err)
		}
		blocks, parseErr := ParseAwardBlob(blob)
		records = append(records, Record{EntityID: entityID, Blocks: blocks, Err: parseErr})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy rows: %w", err)
	}
	return records, nil
}

// ReadProfile implements eav.LegacyReader: while an instance has EAV
// disabled, its profile comes straight from the blob column, never
// rewritten.
func (s *PostgresAwardSource) ReadProfile(ctx context.Context, entityType, entityID string) (map[string]interface{}, error) {
	if entityType != s.entityType {
		return nil, &eav.SchemaError{EntityType: entityType,
			Reason: fmt.Sprintf("legacy source serves %s only", s.entityType)}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s::text = $1`,
		s.blobColumn, s.table, s.idColumn)

	var blob []byte
	if err := s.db.GetContext(ctx, &blob, query, entityID); err != nil {
		return nil, fmt.Errorf("failed to read legacy profile: %w", err)
	}
	blocks, err := ParseAwardBlob(blob)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"awards": blocks}, nil
}
