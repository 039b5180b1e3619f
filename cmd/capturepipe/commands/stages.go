package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/capturepipe/internal/api"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/bryanchriswhite/capturepipe/internal/stages"
	"github.com/spf13/cobra"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List stage kinds and whether this machine supports them",
	Long: `Probe every stage kind. Capture stages need an X display, encoder
stages need the matching GStreamer hardware element (nvh264enc for encode-A,
amfh264enc for encode-B).`,
	Example: `  # Table output
  capturepipe stages

  # JSON output
  capturepipe stages --format json`,
	RunE: runStages,
}

var stagesFormat string

func init() {
	rootCmd.AddCommand(stagesCmd)
	stagesCmd.Flags().StringVarP(&stagesFormat, "format", "f", "table", "output format (table or json)")
}

func runStages(cmd *cobra.Command, args []string) error {
	factory := stages.NewFactory(stages.Default())

	var support []api.StageSupport
	for _, kind := range pipeline.Kinds() {
		supported := false
		if s, err := factory(kind); err == nil {
			supported = s.IsSupported()
		}
		support = append(support, api.StageSupport{Kind: kind, Supported: supported})
	}

	switch stagesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(support)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tSUPPORTED")
		for _, s := range support {
			mark := "no"
			if s.Supported {
				mark = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\n", s.Kind, mark)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", stagesFormat)
	}
}
