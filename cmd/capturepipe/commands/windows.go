package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/capturepipe/internal/capture/x11"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List windows that can be captured",
	Long: `List the titled top-level windows on the X display. A title from this
list can be passed to "record --source window --window TITLE".`,
	Example: `  # List windows in table format (default)
  capturepipe windows

  # List windows in JSON format
  capturepipe windows --format json

  # Show only the focused window
  capturepipe windows --current`,
	RunE: runWindows,
}

var (
	windowsFormat  string
	windowsCurrent bool
)

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
	windowsCmd.Flags().BoolVarP(&windowsCurrent, "current", "c", false, "show only the focused window")
}

func runWindows(cmd *cobra.Command, args []string) error {
	d, err := x11.OpenDisplay("")
	if err != nil {
		return fmt.Errorf("failed to connect to X11: %w", err)
	}
	defer d.Close()

	windows, err := d.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	if windowsCurrent {
		filtered := windows[:0]
		for _, w := range windows {
			if w.Focused {
				filtered = append(filtered, w)
			}
		}
		windows = filtered
	}

	switch windowsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		if len(windows) == 0 {
			fmt.Println("No windows found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFOCUSED\tTITLE")
		for _, win := range windows {
			focused := ""
			if win.Focused {
				focused = "*"
			}
			fmt.Fprintf(w, "0x%x\t%s\t%s\n", win.ID, focused, win.Title)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}
