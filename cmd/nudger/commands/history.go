package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show persisted cycle records",
	Long: `Show the most recent monitor cycles from the SQLite history database and a
summary over a time window.

The database is written by serve when history.database_path is set.`,
	Example: `  # Last 20 cycles and a 24h summary
  nudger history

  # Last 100 cycles, summary over the past hour
  nudger history --limit 100 --since 1h

  # Drop records older than a week
  nudger history --prune 168h`,
	RunE: runHistory,
}

var (
	historyLimit  int
	historySince  time.Duration
	historyPrune  time.Duration
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of cycles to show")
	historyCmd.Flags().DurationVar(&historySince, "since", 24*time.Hour, "summary window")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete records older than this")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "output format (table or json)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	path := configMgr.Get().History.DatabasePath
	if path != "" {
		path = configMgr.ResolvePath(path)
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyPrune > 0 {
		n, err := store.Prune(time.Now().Add(-historyPrune))
		if err != nil {
			return err
		}
		fmt.Printf("✅ Pruned %d record(s)\n", n)
	}

	records, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}
	summary, err := store.SummarySince(time.Now().Add(-historySince))
	if err != nil {
		return err
	}

	switch historyFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{
			"summary": summary,
			"records": records,
		})
	case "table":
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", historyFormat)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tACTIVATION\tTEMPLATE\tCONFIDENCE\tTHRESHOLD\tACTION\tERROR")
	fmt.Fprintln(w, "-------\t--------\t----------\t--------\t----------\t---------\t------\t-----")
	for _, r := range records {
		template := "-"
		if r.Template != "" {
			template = filepath.Base(r.Template)
		}
		fmt.Fprintf(w, "%s\t%dms\t%s\t%s\t%.4f\t%.3f\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.DurationMs, r.Activation,
			template, r.Confidence, r.Threshold, r.Action, r.Error)
	}
	w.Flush()

	fmt.Printf("\nLast %s: %d cycles, %d found, %d triggered, %d dismissed, %d errors\n",
		historySince, summary.Cycles, summary.Found, summary.Triggers, summary.Dismiss, summary.Errors)
	return nil
}
