// Package analysis runs the per-watershed analyzers (topography, hydrology,
// climate, soils, land use) and persists their outputs next to the project.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hydroai/internal/project"
	"hydroai/internal/watershed"
)

var (
	// ErrUnavailable is returned by analyzers whose data source is not
	// reachable from this build.
	ErrUnavailable = errors.New("analysis unavailable")
	// ErrNoWatershed is returned when a project has not been delineated yet.
	ErrNoWatershed = errors.New("delineate a watershed first")
	// ErrUnknownAnalyzer is returned for names missing from the registry.
	ErrUnknownAnalyzer = errors.New("unknown analyzer")
)

// Input is what every analyzer receives.
type Input struct {
	ProjectPath string
	Project     *project.Metadata
	Watershed   *watershed.Loaded
}

// Metric is a single labelled value.
type Metric struct {
	Key      string  `json:"key"`
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
	Decimals int     `json:"decimals"` // display precision
}

// Row is a labelled table row.
type Row struct {
	Label  string    `json:"label"`
	Values []float64 `json:"values"`
}

// Table is a small result table. Columns includes the label column.
type Table struct {
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Output is the persisted result of one analyzer.
type Output struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	Metrics []Metric `json:"metrics"`
	Tables  []Table  `json:"tables,omitempty"`
	// Facts holds categorical results such as a texture class.
	Facts       map[string]string `json:"facts,omitempty"`
	Notes       []string          `json:"notes,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

func (o *Output) add(key, label string, value float64, unit string, decimals int) {
	o.Metrics = append(o.Metrics, Metric{Key: key, Label: label, Value: value, Unit: unit, Decimals: decimals})
}

// Metric returns the metric stored under key.
func (o *Output) Metric(key string) (Metric, bool) {
	for _, m := range o.Metrics {
		if m.Key == key {
			return m, true
		}
	}
	return Metric{}, false
}

func (o *Output) fact(key, value string) {
	if o.Facts == nil {
		o.Facts = make(map[string]string)
	}
	o.Facts[key] = value
}

// Summary flattens metrics and facts into key/value pairs.
func (o *Output) Summary() map[string]any {
	out := make(map[string]any, len(o.Metrics)+len(o.Facts))
	for _, m := range o.Metrics {
		out[m.Key] = m.Value
	}
	for k, v := range o.Facts {
		out[k] = v
	}
	return out
}

// Analyzer computes one family of watershed indicators.
type Analyzer interface {
	Name() string
	Title() string
	Run(ctx context.Context, in *Input) (*Output, error)
}

// Registry holds analyzers in display order.
type Registry struct {
	order     []string
	analyzers map[string]Analyzer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// Register adds a, replacing any analyzer with the same name.
func (r *Registry) Register(a Analyzer) {
	if _, ok := r.analyzers[a.Name()]; !ok {
		r.order = append(r.order, a.Name())
	}
	r.analyzers[a.Name()] = a
}

// Get returns the analyzer registered as name.
func (r *Registry) Get(name string) (Analyzer, bool) {
	a, ok := r.analyzers[name]
	return a, ok
}

// Names returns registered names in display order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Select resolves names against the registry. An empty list selects all.
func (r *Registry) Select(names []string) ([]Analyzer, error) {
	if len(names) == 0 {
		names = r.order
	}
	out := make([]Analyzer, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		a, ok := r.analyzers[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAnalyzer, n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, a)
		}
	}
	return out, nil
}

// ResultFile returns the path of the saved output of analyzer name.
func ResultFile(projectPath, name string) string {
	return filepath.Join(project.ResultsDir(projectPath), "analysis_"+name+".json")
}

// SaveOutput writes out to the project's results directory.
func SaveOutput(projectPath string, out *Output) error {
	if err := os.MkdirAll(project.ResultsDir(projectPath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	path := ResultFile(projectPath, out.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadOutputs reads the saved outputs of the given analyzers, skipping the
// ones that never ran.
func LoadOutputs(projectPath string, names []string) ([]*Output, error) {
	var outs []*Output
	for _, n := range names {
		data, err := os.ReadFile(ResultFile(projectPath, n))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var o Output
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("invalid result for %s: %w", n, err)
		}
		outs = append(outs, &o)
	}
	return outs, nil
}
