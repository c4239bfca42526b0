// Package report renders a Markdown report from a project's metadata and
// saved analysis outputs, optionally with a model-written interpretation.
package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"hydroai/internal/analysis"
	"hydroai/internal/format"
	"hydroai/internal/logging"
	"hydroai/internal/project"
)

//go:embed templates/report.md.tmpl
var templates embed.FS

const dateTimeLayout = "02/01/2006 15:04"

// Notes placed in the interpretation section when no narrative is available.
const (
	NoteNoNarrator       = "Interpretação automática não gerada: nenhuma chave de API configurada."
	NoteNarratorDisabled = "Interpretação automática desativada pelo usuário."
	NoteNarratorFailed   = "Interpretação automática não gerada: %v"
)

// data is the template context.
type data struct {
	Project       *project.Metadata
	Analyses      []*analysis.Output
	Missing       []string
	Narrative     string
	NarrativeNote string
	Version       string
	GeneratedAt   time.Time
}

// Generator writes reports for projects.
type Generator struct {
	projects  *project.Manager
	analyzers []string
	narrator  Narrator
	skipNote  string
	locale    string
	logger    *zap.Logger
	now       func() time.Time
	tmpl      *template.Template
}

// Option configures a Generator.
type Option func(*Generator)

// WithNarrator sets the interpretation writer. A nil narrator disables it.
func WithNarrator(n Narrator) Option { return func(g *Generator) { g.narrator = n } }

// WithoutNarrator disables the interpretation and records note in its place.
func WithoutNarrator(note string) Option {
	return func(g *Generator) { g.narrator, g.skipNote = nil, note }
}

// WithLocale selects number formatting (pt-BR default, en-US).
func WithLocale(locale string) Option { return func(g *Generator) { g.locale = locale } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// NewGenerator creates a Generator. analyzers lists the analyzer names in
// the order their sections appear.
func NewGenerator(projects *project.Manager, analyzers []string, logger *zap.Logger, opts ...Option) (*Generator, error) {
	g := &Generator{
		projects:  projects,
		analyzers: analyzers,
		locale:    "pt-BR",
		logger:    logging.Named(logger, logging.CategoryReport),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	tmpl, err := template.New("report.md.tmpl").Funcs(g.funcs()).ParseFS(templates, "templates/report.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	g.tmpl = tmpl
	return g, nil
}

func (g *Generator) funcs() template.FuncMap {
	return template.FuncMap{
		"num": func(v float64, decimals int) string {
			return format.NumberLocale(v, decimals, g.locale)
		},
		"datetime": func(t time.Time) string {
			return format.DateTime(t.Local(), dateTimeLayout)
		},
		"inc":  func(i int) int { return i + 1 },
		"join": strings.Join,
		"base": filepath.Base,
	}
}

// Generate renders the report for the project at path, writes it to
// reports/report_<timestamp>.md and marks the project as reported.
func (g *Generator) Generate(ctx context.Context, path string) (string, error) {
	meta, err := g.projects.Load(path)
	if err != nil {
		return "", err
	}
	outs, err := analysis.LoadOutputs(path, g.analyzers)
	if err != nil {
		return "", err
	}

	now := g.now()
	d := &data{
		Project:     meta,
		Analyses:    outs,
		Missing:     missing(g.analyzers, outs),
		Version:     project.Version,
		GeneratedAt: now,
	}

	if g.narrator == nil {
		d.NarrativeNote = NoteNoNarrator
		if g.skipNote != "" {
			d.NarrativeNote = g.skipNote
		}
	} else {
		text, err := g.narrator.Narrate(ctx, BuildFacts(meta, outs, g.locale))
		if err != nil {
			g.logger.Warn("interpretation failed", zap.Error(err))
			d.NarrativeNote = fmt.Sprintf(NoteNarratorFailed, err)
		} else {
			d.Narrative = text
		}
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	dir := project.ReportsDir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	out := filepath.Join(dir, "report_"+now.Format("20060102_150405")+".md")
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	if _, err := g.projects.Update(path, "report", func(m *project.Metadata) error {
		m.Status = project.StatusReported
		return nil
	}); err != nil {
		return "", err
	}
	g.logger.Info("report written", zap.String("path", out), zap.Int("analyses", len(outs)))
	return out, nil
}

// Latest returns the newest report of the project, or "" when none exists.
func Latest(path string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(project.ReportsDir(path), "report_*.md"))
	if err != nil || len(matches) == 0 {
		return "", err
	}
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest, nil
}

// BuildFacts collects the numbers a Narrator may use.
func BuildFacts(meta *project.Metadata, outs []*analysis.Output, locale string) *Facts {
	f := &Facts{
		Project:  meta.Name,
		Outlet:   [2]float64{meta.Outlet.Lat, meta.Outlet.Lon},
		Analyses: make(map[string]map[string]any, len(outs)),
		Locale:   locale,
	}
	if ws := meta.Watershed; ws != nil {
		f.Watershed = map[string]any{
			"area_km2":     ws.AreaKm2,
			"perimeter_km": ws.PerimeterKm,
			"cell_count":   ws.CellCount,
			"epsg":         ws.EPSG,
		}
	}
	for _, o := range outs {
		f.Analyses[o.Name] = o.Summary()
		if len(o.Notes) > 0 {
			if f.Notes == nil {
				f.Notes = make(map[string][]string)
			}
			f.Notes[o.Name] = o.Notes
		}
	}
	return f
}

func missing(names []string, outs []*analysis.Output) []string {
	have := make(map[string]bool, len(outs))
	for _, o := range outs {
		have[o.Name] = true
	}
	var out []string
	for _, n := range names {
		if !have[n] {
			out = append(out, n)
		}
	}
	return out
}
