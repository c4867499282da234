package commands

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Show which thresholds each template would pass",
	Long: `Capture the screen once, match every configured template and print its
best confidence against a range of thresholds.

Put the assistant in the state you want to detect (idle prompt visible, or a
busy prompt visible) and run calibrate. Choose a threshold range in the
config that the wanted template passes and the others fail.`,
	Example: `  # Default range 0.80 to 0.99
  nudger calibrate

  # A finer range near the top
  nudger calibrate --from 0.90 --to 0.99 --step 0.005`,
	RunE: runCalibrate,
}

var (
	calibrateFrom float64
	calibrateTo   float64
	calibrateStep float64
)

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().Float64Var(&calibrateFrom, "from", 0.80, "lowest threshold")
	calibrateCmd.Flags().Float64Var(&calibrateTo, "to", 0.99, "highest threshold")
	calibrateCmd.Flags().Float64Var(&calibrateStep, "step", 0.01, "threshold step")
}

// thresholdRange lists from..to inclusive, rounded to avoid float drift.
func thresholdRange(from, to, step float64) ([]float64, error) {
	if step <= 0 || from > to || from < 0 || to > 1 {
		return nil, fmt.Errorf("invalid threshold range %.3f..%.3f step %.3f", from, to, step)
	}
	var out []float64
	for i := 0; ; i++ {
		t := math.Round((from+float64(i)*step)*1e4) / 1e4
		if t > to+1e-9 {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	thresholds, err := thresholdRange(calibrateFrom, calibrateTo, calibrateStep)
	if err != nil {
		return err
	}

	p, err := probe(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Edge density: %.4f", p.EdgeDensity)
	if p.EdgeDensity < 0.01 {
		fmt.Print(" (screen looks blank or locked)")
	}
	fmt.Println()
	for _, m := range p.Missing {
		fmt.Printf("⚠️  Template not available: %s\n", m)
	}
	fmt.Println()

	for _, r := range p.Results() {
		fmt.Printf("%s: confidence %.4f at scale %.1f", filepath.Base(r.Template), r.Confidence, r.Scale)
		if r.Found {
			fmt.Printf(", center (%d,%d)", r.Center.X, r.Center.Y)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		var header, marks []string
		for _, t := range thresholds {
			header = append(header, fmt.Sprintf("%.3f", t))
			mark := "✗"
			if r.Accepted(t) {
				mark = "✓"
			}
			marks = append(marks, mark)
		}
		fmt.Fprintln(w, "  "+strings.Join(header, "\t"))
		fmt.Fprintln(w, "  "+strings.Join(marks, "\t"))
		w.Flush()
		fmt.Println()
	}

	fmt.Printf("Configured initial threshold: %.3f\n", p.Threshold)
	return nil
}
