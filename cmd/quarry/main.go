package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/cmd/quarry/commands"
	"github.com/quarrylabs/quarry/logger"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - resumable feed import engine",
	Long: `Quarry imports external feeds into an entity store: fetch, parse,
reconcile, clean up what disappeared, expire what got old.

Available commands:
  daemon  - Run the scheduling ticker and import workers
  import  - Import one source now
  clear   - Delete all entities imported from a source
  expire  - Delete entities older than the configured maximum age
  unlock  - Force-release a stuck import
  source  - Manage import sources
  type    - Manage source types
  db      - Database statistics and migrations

Examples:
  quarry source ls          # List configured sources
  quarry import <id>        # Import a source interactively
  quarry daemon             # Run scheduled imports`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.ClearCmd)
	rootCmd.AddCommand(commands.ExpireCmd)
	rootCmd.AddCommand(commands.UnlockCmd)
	rootCmd.AddCommand(commands.SourceCmd)
	rootCmd.AddCommand(commands.TypeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
