package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"campus-eav/internal/config"
	"campus-eav/internal/eav"
	"campus-eav/internal/migration"
)

// MigrateAwardsCommand creates the migrate-awards command.
func MigrateAwardsCommand() *cobra.Command {
	var (
		dryRun       bool
		verbose      bool
		rollback     bool
		dbConnStr    string
		table        string
		idColumn     string
		blobColumn   string
		fallbackDays int
	)

	cmd := &cobra.Command{
		Use:   "migrate-awards",
		Short: "Migrate legacy instructor award blobs into the EAV store",
		Long: `Migrate the legacy denormalized instructor awards column into the
attribute engine.

The run executes inside a single transaction: it seeds the entity type and
award attribute definitions, walks every legacy row, writes one value row
per award field (grouped by a synthetic award group id), marks the legacy
column as a read-only fallback, and records a migration log entry. Re-running
a completed migration is a no-op thanks to the dedupe check.

Examples:
  # Dry run: full read/compute pass, nothing committed
  eavadmin migrate-awards --dry-run

  # Real migration with per-record progress
  eavadmin migrate-awards --verbose

  # Reverse a migration (idempotent)
  eavadmin migrate-awards --rollback`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := migration.Options{
				DryRun:         dryRun,
				Verbose:        verbose,
				FallbackWindow: time.Duration(fallbackDays) * 24 * time.Hour,
			}
			return runMigrateAwards(dbConnStr, table, idColumn, blobColumn, rollback, opts)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Execute the full run but roll back instead of committing")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Emit per-record progress")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Reverse a completed migration")
	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	cmd.Flags().StringVar(&table, "table", "instructors", "Legacy entity table")
	cmd.Flags().StringVar(&idColumn, "id-column", "instructor_id", "Legacy entity id column")
	cmd.Flags().StringVar(&blobColumn, "blob-column", "awards", "Legacy blob column")
	cmd.Flags().IntVar(&fallbackDays, "fallback-days", 90, "Days the legacy source stays readable after migration")

	return cmd
}

func runMigrateAwards(dbConnStr, table, idColumn, blobColumn string, rollback bool, opts migration.Options) error {
	ctx := context.Background()

	fmt.Printf("Starting award migration\n")
	fmt.Printf("Timestamp: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	if opts.DryRun {
		fmt.Printf("DRY RUN MODE - no changes will be committed\n")
	}
	if rollback {
		fmt.Printf("ROLLBACK MODE - reversing a completed migration\n")
	}

	if dbConnStr == "" {
		dbConnStr = config.GetConnectionString()
	}
	fmt.Printf("Database: %s\n\n", maskConnectionString(dbConnStr))

	db, err := connect(dbConnStr)
	if err != nil {
		return err
	}
	defer db.Close()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	repo := eav.NewPostgresRepository(db)
	source := migration.NewPostgresAwardSource(db, "Instructor", table, idColumn, blobColumn)
	engine := migration.NewEngine(repo, source, opts, logger)

	var result *migration.Result
	if rollback {
		result, err = engine.RunRollback(ctx)
	} else {
		result, err = engine.Run(ctx)
	}
	if err != nil {
		fmt.Printf("Migration failed: %v\n", err)
		return err
	}

	printSummary(result)
	return nil
}

func printSummary(result *migration.Result) {
	fmt.Printf("MIGRATION COMPLETE\n")
	fmt.Printf("==================\n")
	if result.Rollback {
		fmt.Printf("  Mode:               rollback\n")
		fmt.Printf("  Values soft-deleted: %d\n", result.ValuesDeleted)
	} else {
		fmt.Printf("  Entities processed: %d\n", result.EntitiesProcessed)
		fmt.Printf("  Values created:     %d\n", result.ValuesCreated)
		fmt.Printf("  Values skipped:     %d\n", result.ValuesSkipped)
	}
	fmt.Printf("  Errors:             %d\n", len(result.RecordErrors))
	fmt.Printf("  Duration:           %s\n", result.Duration.Round(time.Millisecond))
	if result.DryRun {
		fmt.Printf("\nDry run: all data changes rolled back. Re-run without --dry-run to commit.\n")
	}

	if len(result.RecordErrors) > 0 {
		fmt.Printf("\nPer-record failures:\n")
		for _, recErr := range result.RecordErrors {
			fmt.Printf("  - entity %s: %s\n", recErr.EntityID, recErr.Message)
		}
	}
}
