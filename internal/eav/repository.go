package eav

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresRepository implements all EAV repository interfaces using
// PostgreSQL. A repository bound to a transaction routes every statement
// through it; the migration engine relies on this to run a whole migration
// as one unit.
type PostgresRepository struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

// NewPostgresRepository creates a new PostgreSQL EAV repository.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &PostgresRepository{db: db}
}

// =============================================================================
// Transaction Support
// =============================================================================

func (r *PostgresRepository) BeginTx(ctx context.Context) (Repository, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresRepository{db: r.db, tx: tx}, nil
}

func (r *PostgresRepository) Commit() error {
	if r.tx == nil {
		return fmt.Errorf("no active transaction")
	}
	return r.tx.Commit()
}

func (r *PostgresRepository) Rollback() error {
	if r.tx == nil {
		return fmt.Errorf("no active transaction")
	}
	return r.tx.Rollback()
}

func (r *PostgresRepository) getContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if r.tx != nil {
		return r.tx.GetContext(ctx, dest, query, args...)
	}
	return r.db.GetContext(ctx, dest, query, args...)
}

func (r *PostgresRepository) selectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if r.tx != nil {
		return r.tx.SelectContext(ctx, dest, query, args...)
	}
	return r.db.SelectContext(ctx, dest, query, args...)
}

func (r *PostgresRepository) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if r.tx != nil {
		return r.tx.ExecContext(ctx, query, args...)
	}
	return r.db.ExecContext(ctx, query, args...)
}

// =============================================================================
// Rollout Flags
// =============================================================================

func (r *PostgresRepository) SetEnabled(ctx context.Context, entityType, entityID string, enabled bool) error {
	query := `
		INSERT INTO "campus-eav".entity_eav_flags (entity_type_name, entity_id, eav_enabled, updated_at)
		VALUES ($1, $2, $3, (now() at time zone 'utc'))
		ON CONFLICT (entity_type_name, entity_id)
		DO UPDATE SET eav_enabled = EXCLUDED.eav_enabled, updated_at = (now() at time zone 'utc')`

	if _, err := r.execContext(ctx, query, entityType, entityID, enabled); err != nil {
		return fmt.Errorf("failed to set eav flag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsEnabled(ctx context.Context, entityType, entityID string) (bool, error) {
	var enabled bool
	query := `
		SELECT eav_enabled FROM "campus-eav".entity_eav_flags
		WHERE entity_type_name = $1 AND entity_id = $2`

	err := r.getContext(ctx, &enabled, query, entityType, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		// No flag row means the instance has not been opted in yet.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read eav flag: %w", err)
	}
	return enabled, nil
}

// =============================================================================
// Audit Artifacts
// =============================================================================

func (r *PostgresRepository) AppendMigrationLog(ctx context.Context, entry *MigrationLog) error {
	query := `
		INSERT INTO "campus-eav".migration_logs
		(log_id, name, version, dry_run, entities_processed, values_created, error_count, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.getContext(ctx, &entry.CreatedAt, query,
		entry.LogID, entry.Name, entry.Version, entry.DryRun,
		entry.EntitiesProcessed, entry.ValuesCreated, entry.ErrorCount, entry.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to append migration log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkLegacyReadOnly(ctx context.Context, state *LegacySourceState) error {
	query := `
		INSERT INTO "campus-eav".legacy_sources
		(entity_type_name, source_name, read_only, fallback_until, notes, updated_at)
		VALUES ($1, $2, true, $3, $4, (now() at time zone 'utc'))
		ON CONFLICT (entity_type_name, source_name)
		DO UPDATE SET read_only = true, fallback_until = EXCLUDED.fallback_until,
		              notes = EXCLUDED.notes, updated_at = (now() at time zone 'utc')`

	_, err := r.execContext(ctx, query,
		state.EntityTypeName, state.SourceName, state.FallbackUntil, state.Notes)
	if err != nil {
		return fmt.Errorf("failed to mark legacy source read-only: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RestoreLegacySource(ctx context.Context, entityTypeName, sourceName string) error {
	query := `
		UPDATE "campus-eav".legacy_sources
		SET read_only = false, fallback_until = NULL,
		    notes = 'restored by rollback', updated_at = (now() at time zone 'utc')
		WHERE entity_type_name = $1 AND source_name = $2`

	if _, err := r.execContext(ctx, query, entityTypeName, sourceName); err != nil {
		return fmt.Errorf("failed to restore legacy source: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
