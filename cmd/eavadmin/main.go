// eavadmin is the administrative entry point for the attribute engine:
// catalog management, per-instance writes, and the legacy award migration.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"campus-eav/internal/cli"
)

func main() {
	root := &cobra.Command{
		Use:   "eavadmin",
		Short: "Administer the campus EAV attribute engine",
		Long: `eavadmin manages the schema-flexible attribute engine: the attribute
definition catalog, per-instance attribute values, the gradual-rollout flag,
and the migration that moves legacy denormalized blobs into the store.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		cli.MigrateAwardsCommand(),
		cli.DefineAttributeCommand(),
		cli.SetAttributeCommand(),
		cli.ProfileCommand(),
		cli.InitDefaultsCommand(),
		cli.SetEnabledCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
