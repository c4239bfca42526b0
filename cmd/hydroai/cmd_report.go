package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydroai/internal/config"
	"hydroai/internal/report"
)

var (
	reportRender bool
	reportNoAI   bool
)

var reportCmd = &cobra.Command{
	Use:   "report [project]",
	Short: "Write a Markdown report for a project",
	Long: `Collects the project metadata and saved analyses into
reports/report_<timestamp>.md. When a Gemini API key is configured
(GEMINI_API_KEY or report.api_key) the report includes an AI-written
interpretation of the results.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportRender, "render", false, "Render the report in the terminal")
	reportCmd.Flags().BoolVar(&reportNoAI, "no-ai", false, "Skip the AI interpretation")
}

func runReport(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	c := currentConfig()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	ctx, cancelReport := context.WithTimeout(ctx, c.GetReportTimeout())
	defer cancelReport()

	opts := []report.Option{report.WithLocale(c.Report.Locale)}
	if n, note := narrator(ctx, c); n != nil {
		opts = append(opts, report.WithNarrator(n))
	} else {
		opts = append(opts, report.WithoutNarrator(note))
	}
	gen, err := report.NewGenerator(mgr, c.Analysis.Enabled, currentLogger(), opts...)
	if err != nil {
		return err
	}
	file, err := gen.Generate(ctx, path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportRender {
		md, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return fmt.Errorf("failed to create renderer: %w", err)
		}
		rendered, err := r.Render(string(md))
		if err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
		fmt.Fprint(out, rendered)
	}
	fmt.Fprintln(out, styles.Check("report written: %s", file))
	return nil
}

// narrator returns the configured interpretation writer. When there is none
// it returns the note the report shows instead.
func narrator(ctx context.Context, c *config.Config) (report.Narrator, string) {
	if reportNoAI || c.Report.Provider == "none" {
		return nil, report.NoteNarratorDisabled
	}
	if err := c.RequireReportKey(); err != nil {
		currentLogger().Info("AI interpretation disabled", zap.Error(err))
		return nil, report.NoteNoNarrator
	}
	n, err := report.NewGenAINarrator(ctx, c.Report.APIKey, c.Report.Model)
	if err != nil {
		currentLogger().Warn("AI interpretation unavailable", zap.Error(err))
		return nil, fmt.Sprintf(report.NoteNarratorFailed, err)
	}
	return n, ""
}
