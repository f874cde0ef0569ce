package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
)

// ImportCmd runs one source's import to completion interactively.
var ImportCmd = &cobra.Command{
	Use:   "import <source-id>",
	Short: "Import one source now",
	Long: `Run a full import for one source, batch by batch, with progress output.

Examples:
  quarry import 7f3a...       # Import a source by id`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	source, err := app.Sources.Get(args[0])
	if err != nil {
		return err
	}

	pterm.Info.Printf("Importing %q from %s\n", source.Label, source.Origin)

	progress, _ := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle("Importing").
		Start()

	for {
		done, err := app.Orchestrator.RunBatch(cmd.Context(), source)
		if errors.IsLockedError(err) {
			progress.Stop()
			pterm.Warning.Println("Source is locked by another import; try again later or run: quarry unlock", source.ID)
			return err
		}
		if err != nil {
			progress.Stop()
			return err
		}

		current := int(source.State(feed.StageParse).Progress() * 100)
		if current > progress.Current {
			progress.Add(current - progress.Current)
		}

		if done {
			break
		}
	}
	if progress.Current < 100 {
		progress.Add(100 - progress.Current)
	}
	progress.Stop()

	pterm.Success.Println("Import finished")
	fmt.Printf("Items imported: %d\n", source.ItemCount)
	return nil
}
