package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// UnlockCmd force-recovers a stuck import.
var UnlockCmd = &cobra.Command{
	Use:   "unlock <source-id>",
	Short: "Force-release a stuck import",
	Long: `Release a source's import lock, drop all of its stage progress and
reset its queue marker. The next import starts from scratch.

Examples:
  quarry unlock 7f3a...`,
	Args: cobra.ExactArgs(1),
	RunE: runUnlock,
}

func runUnlock(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	source, err := app.Sources.Get(args[0])
	if err != nil {
		return err
	}

	if err := app.Orchestrator.Unlock(source); err != nil {
		return err
	}
	pterm.Success.Printf("Unlocked source %q\n", source.Label)
	return nil
}
