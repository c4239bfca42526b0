package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"hydroai/cmd/hydroai/ui"
	"hydroai/internal/analysis"
	"hydroai/internal/format"
)

var analyzeOnly []string

var analyzeCmd = &cobra.Command{
	Use:   "analyze [project]",
	Short: "Run analyses over a delineated watershed",
	Long: `Runs the enabled analyzers concurrently and saves each result to
results/analysis_<name>.json. A failing analyzer does not stop the others.

Analyzers: lulc, topography, soils, hydrology, climate.

Example:
  hydroai analyze Arroio_Grande_20240101_120000 --only topography,hydrology`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeOnly, "only", nil, "Run only these analyzers (comma separated)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	c := currentConfig()
	names := c.Analysis.Enabled
	if len(analyzeOnly) > 0 {
		names = analyzeOnly
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	runner := analysis.NewRunner(analysis.DefaultRegistry(c, currentLogger()), mgr,
		c.Analysis.Concurrency, c.GetAnalysisTimeout(), currentLogger())
	res, err := runner.Run(ctx, path, names)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, o := range res.Outputs {
		printOutput(out, o)
	}
	for _, name := range sortedKeys(res.Errors) {
		fmt.Fprintln(out, styles.Warn("%s: %v", name, res.Errors[name]))
	}
	if len(res.Outputs) == 0 {
		return fmt.Errorf("no analysis succeeded: %w", res.Err())
	}
	return nil
}

func printOutput(w io.Writer, o *analysis.Output) {
	fields := make([]ui.Field, 0, len(o.Metrics)+len(o.Facts))
	for _, m := range o.Metrics {
		v := format.Number(m.Value, m.Decimals)
		if m.Unit != "" {
			v += " " + m.Unit
		}
		fields = append(fields, ui.Field{Label: m.Label, Value: v})
	}
	for _, k := range sortedKeys(o.Facts) {
		fields = append(fields, ui.Field{Label: strings.ReplaceAll(k, "_", " "), Value: o.Facts[k]})
	}
	fmt.Fprintln(w, styles.Panel(o.Title, fields))
	for _, n := range o.Notes {
		fmt.Fprintln(w, styles.Muted.Render("  "+n))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
