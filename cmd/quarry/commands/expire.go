package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ExpireCmd deletes entities older than the source type's maximum age.
var ExpireCmd = &cobra.Command{
	Use:   "expire <source-id>",
	Short: "Delete entities older than the configured maximum age",
	Long: `Delete entities whose import timestamp fell behind the source type's
expire period. A type without an expire period never expires anything.

Examples:
  quarry expire 7f3a...`,
	Args: cobra.ExactArgs(1),
	RunE: runExpire,
}

func runExpire(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	source, err := app.Sources.Get(args[0])
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Expiring old entities")
	if err := app.Orchestrator.Expire(cmd.Context(), source); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("Expired old entities")
	return nil
}
