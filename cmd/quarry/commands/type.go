package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
)

// TypeCmd groups source type management subcommands.
var TypeCmd = &cobra.Command{
	Use:   "type",
	Short: "Manage source types",
	Long: `Manage source types: the reusable pipeline definitions (fetcher,
parser, processor, mappings) shared by sources.

Examples:
  quarry type ls
  quarry type add --file news-csv.json
  quarry type rm news-csv`,
}

var typeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List source types",
	RunE:  runTypeLs,
}

var typeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a source type from a JSON definition",
	RunE:  runTypeAdd,
}

var typeRmCmd = &cobra.Command{
	Use:   "rm <type-id>",
	Short: "Remove a source type",
	Long:  "Remove a source type. Fails while sources of the type still exist.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTypeRm,
}

var typeFileFlag string

func init() {
	TypeCmd.AddCommand(typeLsCmd)
	TypeCmd.AddCommand(typeAddCmd)
	TypeCmd.AddCommand(typeRmCmd)

	typeAddCmd.Flags().StringVar(&typeFileFlag, "file", "", "Path to the JSON type definition (required)")
	typeAddCmd.MarkFlagRequired("file")
}

func runTypeLs(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	types, err := app.Types.List()
	if err != nil {
		return err
	}

	rows := pterm.TableData{{"ID", "Label", "Fetcher", "Parser", "Processor", "Mappings"}}
	for _, t := range types {
		rows = append(rows, []string{
			t.ID,
			t.Label,
			t.Fetcher,
			t.Parser,
			t.Processor,
			fmt.Sprintf("%d", len(t.Mappings)),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// typeDefinition is the on-disk JSON shape for quarry type add.
type typeDefinition struct {
	ID            string                     `json:"id"`
	Label         string                     `json:"label"`
	ImportPeriod  int                        `json:"import_period"`
	ExpirePeriod  int                        `json:"expire_period"`
	Fetcher       string                     `json:"fetcher"`
	Parser        string                     `json:"parser"`
	Processor     string                     `json:"processor"`
	PluginConfig  map[string]json.RawMessage `json:"plugin_config"`
	Mappings      []feed.Mapping             `json:"mappings"`
	CustomSources map[string]string          `json:"custom_sources"`
}

func runTypeAdd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(typeFileFlag)
	if err != nil {
		return errors.Wrapf(err, "failed to read type definition %q", typeFileFlag)
	}

	var def typeDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return errors.Wrapf(err, "invalid type definition %q", typeFileFlag)
	}
	if def.ID == "" || def.Fetcher == "" || def.Parser == "" || def.Processor == "" {
		return errors.New("type definition requires id, fetcher, parser and processor")
	}

	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	sourceType := &feed.SourceType{
		ID:            def.ID,
		Label:         def.Label,
		ImportPeriod:  def.ImportPeriod,
		ExpirePeriod:  def.ExpirePeriod,
		Fetcher:       def.Fetcher,
		Parser:        def.Parser,
		Processor:     def.Processor,
		PluginConfig:  def.PluginConfig,
		Mappings:      def.Mappings,
		CustomSources: def.CustomSources,
	}
	if err := app.Types.Create(sourceType); err != nil {
		return err
	}
	pterm.Success.Printf("Added source type %q\n", sourceType.ID)
	return nil
}

func runTypeRm(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Types.Delete(args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Removed source type %q\n", args[0])
	return nil
}
