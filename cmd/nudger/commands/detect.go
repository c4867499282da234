package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/bryanchriswhite/Nudger/internal/app"
	"github.com/bryanchriswhite/Nudger/internal/monitor"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection pass without acting",
	Long: `Capture the screen once and match the idle and busy templates at the
initial threshold. No window is moved and no input is sent.

With --save the frame is written as a PNG with each match outlined: green
when it clears the threshold, red when it does not.`,
	Example: `  # Print the matches
  nudger detect

  # Keep an annotated screenshot
  nudger detect --save /tmp/detect.png`,
	RunE: runDetect,
}

var (
	detectSave   string
	detectFormat string
)

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVarP(&detectSave, "save", "s", "", "write the annotated frame to this PNG file")
	detectCmd.Flags().StringVarP(&detectFormat, "format", "f", "table", "output format (table or json)")
}

// probe connects to the desktop and runs one passive detection pass.
func probe(ctx context.Context) (*monitor.ProbeResult, error) {
	configMgr, err := loadConfig()
	if err != nil {
		return nil, err
	}

	desktop, err := app.OpenDesktop(ctx, configMgr.Get())
	if err != nil {
		return nil, err
	}
	defer desktop.Close()

	return monitor.Probe(ctx, configMgr, desktop.Capturer)
}

func runDetect(cmd *cobra.Command, args []string) error {
	p, err := probe(cmd.Context())
	if err != nil {
		return err
	}

	if detectSave != "" {
		if err := savePNG(detectSave, p); err != nil {
			return err
		}
	}

	switch detectFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{
			"threshold":    p.Threshold,
			"edge_density": p.EdgeDensity,
			"results":      p.Results(),
			"missing":      p.Missing,
		})
	case "table":
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", detectFormat)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEMPLATE\tCONFIDENCE\tSCALE\tCENTER\tACCEPTED")
	fmt.Fprintln(w, "--------\t----------\t-----\t------\t--------")
	for _, r := range p.Results() {
		center := "-"
		if r.Found {
			center = fmt.Sprintf("%d,%d", r.Center.X, r.Center.Y)
		}
		fmt.Fprintf(w, "%s\t%.4f\t%.1f\t%s\t%t\n", filepath.Base(r.Template), r.Confidence, r.Scale, center, r.Accepted(p.Threshold))
	}
	w.Flush()

	fmt.Printf("\nThreshold %.3f, edge density %.4f\n", p.Threshold, p.EdgeDensity)
	for _, m := range p.Missing {
		fmt.Printf("⚠️  Template not available: %s\n", m)
	}
	if detectSave != "" {
		fmt.Printf("✅ Annotated frame saved to %s\n", detectSave)
	}
	return nil
}

func savePNG(path string, p *monitor.ProbeResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, p.Annotated()); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
