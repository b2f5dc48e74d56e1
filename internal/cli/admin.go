package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"campus-eav/internal/eav"
)

// newService wires a database-backed EAV service for one command
// invocation. The returned close function releases the connection.
func newService(dbConnStr string) (*eav.Service, func(), error) {
	db, err := connect(dbConnStr)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	repo := eav.NewPostgresRepository(db)
	svc := eav.NewService(repo, eav.NewMemoryDefinitionCache(), nil, logger)
	closeFn := func() {
		_ = logger.Sync()
		_ = db.Close()
	}
	return svc, closeFn, nil
}

// DefineAttributeCommand creates the define-attribute command.
func DefineAttributeCommand() *cobra.Command {
	var (
		dbConnStr   string
		entityType  string
		displayName string
		description string
		kind        string
		required    bool
		multiValued bool
		defaultVal  string
		category    string
		sortOrder   int
		rulesJSON   string
	)

	cmd := &cobra.Command{
		Use:   "define-attribute <name>",
		Short: "Register a new attribute definition for an entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newService(dbConnStr)
			if err != nil {
				return err
			}
			defer closeFn()

			spec := eav.AttributeSpec{
				Name:         args[0],
				DisplayName:  displayName,
				Description:  description,
				Kind:         eav.ValueKind(kind),
				Required:     required,
				MultiValued:  multiValued,
				DefaultValue: defaultVal,
				Category:     category,
				SortOrder:    sortOrder,
			}
			if rulesJSON != "" {
				if err := json.Unmarshal([]byte(rulesJSON), &spec.ValidationRules); err != nil {
					return fmt.Errorf("invalid --rules document: %w", err)
				}
			}
			if spec.DisplayName == "" {
				spec.DisplayName = spec.Name
			}

			id, err := svc.DefineAttribute(context.Background(), entityType, spec)
			if err != nil {
				return err
			}
			fmt.Printf("Attribute %s registered for %s (id: %s)\n", spec.Name, entityType, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type name (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Human-readable name")
	cmd.Flags().StringVar(&description, "description", "", "Attribute description")
	cmd.Flags().StringVar(&kind, "kind", "string", "Value kind (string|integer|decimal|boolean|date|datetime|text|structured)")
	cmd.Flags().BoolVar(&required, "required", false, "Reject writes with no value")
	cmd.Flags().BoolVar(&multiValued, "multi-valued", false, "Allow multiple occurrences per entity")
	cmd.Flags().StringVar(&defaultVal, "default", "", "Default value (interpreted per kind)")
	cmd.Flags().StringVar(&category, "category", "", "Catalog category for grouped listing")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "Stable display/iteration order")
	cmd.Flags().StringVar(&rulesJSON, "rules", "", `Validation rules JSON, e.g. '{"min":1900,"max":2100}'`)
	_ = cmd.MarkFlagRequired("entity-type")

	return cmd
}

// SetAttributeCommand creates the set-attribute command.
func SetAttributeCommand() *cobra.Command {
	var (
		dbConnStr  string
		entityType string
		entityID   string
	)

	cmd := &cobra.Command{
		Use:   "set-attribute <name> <value>",
		Short: "Validate and write one attribute value for an entity instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newService(dbConnStr)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.SetAttribute(context.Background(), entityType, entityID, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s for %s/%s\n", args[0], entityType, entityID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type name (required)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity instance id (required)")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")

	return cmd
}

// ProfileCommand creates the profile command.
func ProfileCommand() *cobra.Command {
	var (
		dbConnStr  string
		entityType string
		entityID   string
		category   string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print an entity's decoded attribute profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newService(dbConnStr)
			if err != nil {
				return err
			}
			defer closeFn()

			profile, err := svc.GetProfile(context.Background(), entityType, entityID, category)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(profile))
			for name := range profile {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("Profile for %s/%s (%d attributes):\n", entityType, entityID, len(names))
			enc := json.NewEncoder(os.Stdout)
			for _, name := range names {
				fmt.Printf("  %s = ", name)
				_ = enc.Encode(profile[name])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type name (required)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity instance id (required)")
	cmd.Flags().StringVar(&category, "category", "", "Restrict to one catalog category")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")

	return cmd
}

// InitDefaultsCommand creates the init-defaults command.
func InitDefaultsCommand() *cobra.Command {
	var (
		dbConnStr  string
		entityType string
		entityID   string
		category   string
	)

	cmd := &cobra.Command{
		Use:   "init-defaults",
		Short: "Seed default values for a category of attributes",
		Long: `Seed default values for every active attribute in a category,
skipping attributes the instance already has a value for. Typically run as
part of role-specific onboarding.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newService(dbConnStr)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.InitializeDefaults(context.Background(), entityType, entityID, category); err != nil {
				return err
			}
			fmt.Printf("Defaults initialized for %s/%s (category %q)\n", entityType, entityID, category)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type name (required)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity instance id (required)")
	cmd.Flags().StringVar(&category, "category", "", "Attribute category to seed (required)")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

// SetEnabledCommand creates the set-eav-enabled command.
func SetEnabledCommand() *cobra.Command {
	var (
		dbConnStr  string
		entityType string
		entityID   string
		disable    bool
	)

	cmd := &cobra.Command{
		Use:   "set-eav-enabled",
		Short: "Flip the per-instance EAV rollout flag",
		Long: `Enable or disable the attribute engine for one entity instance.
Disabled instances read their profile from the legacy fallback source until
the fallback window closes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newService(dbConnStr)
			if err != nil {
				return err
			}
			defer closeFn()

			enabled := !disable
			if err := svc.SetEnabled(context.Background(), entityType, entityID, enabled); err != nil {
				return err
			}
			fmt.Printf("EAV %s for %s/%s\n", map[bool]string{true: "enabled", false: "disabled"}[enabled], entityType, entityID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type name (required)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity instance id (required)")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable instead of enable")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")

	return cmd
}
