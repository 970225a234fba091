package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/internal/observability"
	"github.com/3leaps/trackside/pkg/itemstore"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the item store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the item store schema",
	Long: `Create or upgrade the item store schema.

Uses store.url (libsql/Turso) when set, otherwise store.path. Migration is
idempotent; every command that opens the store also migrates it.`,
	RunE: runStoreMigrate,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeMigrateCmd)
}

func runStoreMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	store, err := itemstore.Open(commandContext(cmd), cfg.Store.ItemStore())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "migrate item store", err)
	}
	defer func() { _ = store.Close() }()

	target := cfg.Store.URL
	if target == "" {
		target = cfg.Store.Path
	}
	observability.CLILogger.Info("Item store migrated",
		zap.String("store", target),
		zap.Int("schema_version", itemstore.SchemaVersion),
	)
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "schema_version=%d\n", itemstore.SchemaVersion); err != nil {
		return exitError(foundry.ExitFileWriteError, "write output", err)
	}
	return nil
}
