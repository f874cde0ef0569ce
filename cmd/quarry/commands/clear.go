package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ClearCmd deletes every entity imported from a source.
var ClearCmd = &cobra.Command{
	Use:   "clear <source-id>",
	Short: "Delete all entities imported from a source",
	Long: `Delete every entity previously imported from one source. Deletion runs
in small batches; the source configuration itself is kept.

Examples:
  quarry clear 7f3a...`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	source, err := app.Sources.Get(args[0])
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Clearing imported entities")
	if err := app.Orchestrator.Clear(cmd.Context(), source); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("Cleared all imported entities")
	return nil
}
