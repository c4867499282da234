package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/Nudger/internal/app"
	"github.com/bryanchriswhite/Nudger/internal/window"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:     "windows",
	Aliases: []string{"list"},
	Short:   "List and classify top-level windows",
	Long: `List the top-level windows on the X11 desktop and how the current title
rules classify them: target, interfering or irrelevant.

This is the quickest way to check that the target keywords pick exactly one
window.`,
	Example: `  # Table output (default)
  nudger windows

  # Only the windows that would be acted on
  nudger windows --kind target

  # JSON output
  nudger windows --format json`,
	RunE: runWindows,
}

var (
	windowsFormat string
	windowsKind   string
)

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
	windowsCmd.Flags().StringVarP(&windowsKind, "kind", "k", "", "show only one class (target, interfering, irrelevant)")
}

func runWindows(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	classifier, err := window.NewClassifier(configMgr.Get().Windows)
	if err != nil {
		return err
	}

	conn, err := app.ConnectX(context.Background())
	if err != nil {
		return err
	}
	backend := window.NewX11BackendWithConn(conn)
	defer backend.Close()

	windows, err := window.Describe(backend, classifier)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	if windowsKind != "" {
		filtered := make([]window.Described, 0, len(windows))
		for _, w := range windows {
			if w.Kind.String() == windowsKind {
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
		return printWindowsTable(windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}

func printWindowsTable(windows []window.Described) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tKIND\tSTATE\tFG\tPROCESS\tTITLE")
	fmt.Fprintln(w, "--\t----\t-----\t--\t-------\t-----")

	for _, d := range windows {
		fg := ""
		if d.Foreground {
			fg = "*"
		}
		fmt.Fprintf(w, "0x%x\t%s\t%s\t%s\t%s\t%s\n", uint32(d.Handle), d.Kind, d.Placement.State, fg, d.Process, d.Title)
	}

	return nil
}
