package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campus-eav/internal/eav"
)

// GroupAttribute is the sibling attribute holding the synthetic group
// identifier that re-associates the fields of one award repetition.
const GroupAttribute = "award_group_id"

// attributePrefix scopes rollback: every definition and value the engine
// creates is named under it.
const attributePrefix = "award_"

const awardCategory = "awards"

// DefaultFallbackWindow is how long the legacy source stays readable after a
// successful migration before planned removal.
const DefaultFallbackWindow = 90 * 24 * time.Hour

// Options configures one migration run.
type Options struct {
	Name           string        // migration log name, e.g. "instructor-awards-eav"
	Version        string        // recorded in the log, default "1"
	DryRun         bool          // execute everything, roll back instead of committing
	Verbose        bool          // per-record progress logging
	FallbackWindow time.Duration // read-only window for the legacy source
}

// RecordError is one legacy record that failed to convert. It does not abort
// the run.
type RecordError struct {
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// Result aggregates one run's statistics for the console summary and the
// migration log.
type Result struct {
	DryRun            bool          `json:"dry_run"`
	Rollback          bool          `json:"rollback"`
	EntitiesProcessed int           `json:"entities_processed"`
	ValuesCreated     int           `json:"values_created"`
	ValuesSkipped     int           `json:"values_skipped"`
	ValuesDeleted     int           `json:"values_deleted"`
	RecordErrors      []RecordError `json:"record_errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Engine walks legacy rows, seeds the catalog and bulk-populates the value
// store inside a single transaction.
type Engine struct {
	repo   eav.Repository
	source LegacySource
	opts   Options
	log    *zap.Logger
}

// NewEngine creates a migration engine. The repository must support
// transactions; the whole run commits or rolls back as one unit.
func NewEngine(repo eav.Repository, source LegacySource, opts Options, log *zap.Logger) *Engine {
	if opts.Name == "" {
		opts.Name = "instructor-awards-eav"
	}
	if opts.Version == "" {
		opts.Version = "1"
	}
	if opts.FallbackWindow == 0 {
		opts.FallbackWindow = DefaultFallbackWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{repo: repo, source: source, opts: opts, log: log}
}

// AwardAttributeSpecs is the catalog bootstrap: the attribute set the legacy
// awards blob flattens into. All are multi-valued; occurrences of one award
// share a group id written as a sibling attribute.
func AwardAttributeSpecs() []eav.AttributeSpec {
	min, max := 1900.0, 2100.0
	return []eav.AttributeSpec{
		{Name: GroupAttribute, DisplayName: "Award Group", Kind: eav.KindString,
			MultiValued: true, Category: awardCategory, SortOrder: 0,
			Description: "Synthetic identifier grouping the fields of one award"},
		{Name: "award_title", DisplayName: "Award Title", Kind: eav.KindString,
			MultiValued: true, Category: awardCategory, SortOrder: 1},
		{Name: "award_year", DisplayName: "Award Year", Kind: eav.KindInteger,
			MultiValued: true, Category: awardCategory, SortOrder: 2,
			ValidationRules: eav.ValidationRules{Min: &min, Max: &max}},
		{Name: "award_organization", DisplayName: "Awarding Organization", Kind: eav.KindString,
			MultiValued: true, Category: awardCategory, SortOrder: 3},
		{Name: "award_description", DisplayName: "Award Description", Kind: eav.KindText,
			MultiValued: true, Category: awardCategory, SortOrder: 4},
	}
}

// Run executes the forward migration. On dry runs every mutating step still
// executes its read/compute path, then the transaction rolls back; the
// migration log entry is written either way.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{DryRun: e.opts.DryRun}

	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	resolved := false
	defer func() {
		if !resolved {
			_ = tx.Rollback()
		}
	}()

	defs, err := e.bootstrapCatalog(ctx, tx)
	if err != nil {
		return nil, err
	}

	records, err := e.source.Records(ctx)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		result.EntitiesProcessed++
		if rec.Err != nil {
			result.RecordErrors = append(result.RecordErrors,
				RecordError{EntityID: rec.EntityID, Message: rec.Err.Error()})
			continue
		}
		if err := e.migrateRecord(ctx, tx, defs, rec, result); err != nil {
			result.RecordErrors = append(result.RecordErrors,
				RecordError{EntityID: rec.EntityID, Message: err.Error()})
		}
	}

	until := time.Now().UTC().Add(e.opts.FallbackWindow)
	note := fmt.Sprintf("migrated to EAV by %s v%s; readable fallback until %s",
		e.opts.Name, e.opts.Version, until.Format(time.RFC3339))
	state := &eav.LegacySourceState{
		EntityTypeName: e.source.EntityTypeName(),
		SourceName:     e.source.SourceName(),
		FallbackUntil:  &until,
		Notes:          &note,
	}
	if err := tx.MarkLegacyReadOnly(ctx, state); err != nil {
		return nil, err
	}

	if e.opts.DryRun {
		if err := tx.Rollback(); err != nil {
			resolved = true
			return nil, fmt.Errorf("dry-run rollback failed: %w", err)
		}
	} else {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit failed: %w", err)
		}
	}
	resolved = true

	result.Duration = time.Since(start)
	if err := e.writeLog(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// RunRollback reverses a migration: every value under the award attribute
// prefix and every award definition is soft-deleted and the legacy source's
// documented state restored. A second rollback is a no-op.
func (e *Engine) RunRollback(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Rollback: true, DryRun: e.opts.DryRun}

	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	resolved := false
	defer func() {
		if !resolved {
			_ = tx.Rollback()
		}
	}()

	entityType := e.source.EntityTypeName()

	et, err := tx.GetEntityType(ctx, entityType)
	if err == nil {
		valuesDeleted, delErr := tx.SoftDeleteByNamePrefix(ctx, entityType, attributePrefix)
		if delErr != nil {
			return nil, delErr
		}
		result.ValuesDeleted = valuesDeleted

		if _, delErr = tx.SoftDeleteAttributes(ctx, et.EntityTypeID, attributePrefix+"%"); delErr != nil {
			return nil, delErr
		}
	}

	if err := tx.RestoreLegacySource(ctx, entityType, e.source.SourceName()); err != nil {
		return nil, err
	}

	if e.opts.DryRun {
		if err := tx.Rollback(); err != nil {
			resolved = true
			return nil, fmt.Errorf("dry-run rollback failed: %w", err)
		}
	} else {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit failed: %w", err)
		}
	}
	resolved = true

	result.Duration = time.Since(start)
	if err := e.writeLog(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) bootstrapCatalog(ctx context.Context, tx eav.Repository) (map[string]*eav.AttributeDefinition, error) {
	entityTypeID, err := tx.EnsureEntityType(ctx, e.source.EntityTypeName(), e.source.TableName())
	if err != nil {
		return nil, err
	}

	defs := make(map[string]*eav.AttributeDefinition)
	for _, spec := range AwardAttributeSpecs() {
		id, ensureErr := tx.EnsureAttribute(ctx, entityTypeID, spec)
		if ensureErr != nil {
			return nil, ensureErr
		}
		defs[spec.Name] = &eav.AttributeDefinition{
			AttributeID:     id,
			EntityTypeID:    entityTypeID,
			Name:            spec.Name,
			DisplayName:     spec.DisplayName,
			Kind:            spec.Kind,
			Required:        spec.Required,
			MultiValued:     spec.MultiValued,
			ValidationRules: spec.ValidationRules,
			SortOrder:       spec.SortOrder,
			Active:          true,
		}
	}
	e.log.Info("catalog bootstrap complete",
		zap.String("entity_type", e.source.EntityTypeName()),
		zap.Int("attributes", len(defs)))
	return defs, nil
}

func (e *Engine) migrateRecord(ctx context.Context, tx eav.Repository, defs map[string]*eav.AttributeDefinition, rec Record, result *Result) error {
	for idx, block := range rec.Blocks {
		groupID := e.groupID(rec.EntityID, idx)
		if err := e.insertIfNew(ctx, tx, defs[GroupAttribute], rec.EntityID, groupID, idx, result); err != nil {
			return err
		}

		for _, mapping := range awardFields {
			raw, ok := resolveField(block, mapping)
			if !ok {
				// Absent in the source: skipped entirely, never stored as
				// an empty value.
				continue
			}
			if err := e.insertIfNew(ctx, tx, defs[mapping.Attribute], rec.EntityID, raw, idx, result); err != nil {
				return err
			}
		}

		if e.opts.Verbose {
			e.log.Info("migrated award",
				zap.String("entity_id", rec.EntityID),
				zap.Int("occurrence", idx),
				zap.String("group_id", groupID))
		}
	}
	return nil
}

// insertIfNew is the per-field pipeline: encode, validate, dedupe check,
// insert. An identical active value from an earlier run is skipped so
// re-running a completed migration never duplicates rows.
func (e *Engine) insertIfNew(ctx context.Context, tx eav.Repository, def *eav.AttributeDefinition, entityID string, raw interface{}, occurrence int, result *Result) error {
	tv, err := eav.Encode(raw, def.Kind)
	if err != nil {
		return fmt.Errorf("%s: %w", def.Name, err)
	}
	if err := eav.Validate(tv, def); err != nil {
		return err
	}

	exists, err := tx.DedupeCheck(ctx, def.AttributeID, e.source.EntityTypeName(), entityID, tv)
	if err != nil {
		return err
	}
	if exists {
		result.ValuesSkipped++
		return nil
	}

	value := &eav.AttributeValue{
		AttributeID:    def.AttributeID,
		EntityTypeName: e.source.EntityTypeName(),
		EntityID:       entityID,
		TypedValue:     tv,
		SortOrder:      occurrence,
	}
	if err := tx.Upsert(ctx, value, def.MultiValued); err != nil {
		return err
	}
	result.ValuesCreated++
	return nil
}

// groupID mints the synthetic identifier for one award repetition.
// Name-based UUIDs keep re-runs idempotent: the same entity and occurrence
// always yield the same group id.
func (e *Engine) groupID(entityID string, occurrence int) string {
	name := fmt.Sprintf("campus-eav/%s/%s/award/%d",
		e.source.EntityTypeName(), entityID, occurrence)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// writeLog appends the audit record after the transaction resolves, so dry
// runs leave their trace even though their data changes rolled back.
func (e *Engine) writeLog(ctx context.Context, result *Result) error {
	name := e.opts.Name
	if result.Rollback {
		name += "-rollback"
	}
	notes := fmt.Sprintf("processed=%d created=%d skipped=%d deleted=%d errors=%d duration=%s",
		result.EntitiesProcessed, result.ValuesCreated, result.ValuesSkipped,
		result.ValuesDeleted, len(result.RecordErrors), result.Duration.Round(time.Millisecond))

	entry := &eav.MigrationLog{
		LogID:             uuid.New().String(),
		Name:              name,
		Version:           e.opts.Version,
		DryRun:            result.DryRun,
		EntitiesProcessed: result.EntitiesProcessed,
		ValuesCreated:     result.ValuesCreated,
		ErrorCount:        len(result.RecordErrors),
		Notes:             &notes,
	}
	if err := e.repo.AppendMigrationLog(ctx, entry); err != nil {
		return fmt.Errorf("migration completed but audit log write failed: %w", err)
	}
	return nil
}
