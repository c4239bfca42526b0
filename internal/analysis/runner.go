package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hydroai/internal/config"
	"hydroai/internal/httpclient"
	"hydroai/internal/logging"
	"hydroai/internal/project"
	"hydroai/internal/watershed"
)

// DefaultRegistry registers the built-in analyzers in display order.
func DefaultRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	logger = logging.Named(logger, logging.CategoryAnalysis)
	timeout := cfg.GetAnalysisTimeout()

	reg := NewRegistry()
	reg.Register(NewLULC())
	reg.Register(NewTopography())
	reg.Register(NewSoils(httpclient.New(httpclient.Config{
		BaseURL:   cfg.Analysis.SoilGridsURL,
		Timeout:   timeout,
		RateLimit: 1,
		UserAgent: "hydroai/" + project.Version,
	}), logger))
	reg.Register(NewHydrology(cfg.Delineation.StreamThresholdKm2))
	reg.Register(NewClimate(httpclient.New(httpclient.Config{
		BaseURL:   cfg.Analysis.OpenMeteoURL,
		Timeout:   timeout,
		RateLimit: 1,
		UserAgent: "hydroai/" + project.Version,
	}), cfg.Analysis.ClimateYears, logger))
	return reg
}

// RunResult collects the outcome of a Runner.Run call.
type RunResult struct {
	// Outputs holds successful results in registry order.
	Outputs []*Output
	// Errors maps analyzer name to its failure.
	Errors map[string]error
}

// Err joins the per-analyzer errors, sorted by name.
func (r *RunResult) Err() error {
	names := make([]string, 0, len(r.Errors))
	for n := range r.Errors {
		names = append(names, n)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, fmt.Errorf("%s: %w", n, r.Errors[n]))
	}
	return errors.Join(errs...)
}

// Runner executes analyzers against a delineated project.
type Runner struct {
	registry    *Registry
	projects    *project.Manager
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRunner creates a Runner. concurrency < 1 runs analyzers one at a time.
func NewRunner(reg *Registry, projects *project.Manager, concurrency int, timeout time.Duration, logger *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		registry:    reg,
		projects:    projects,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logging.Named(logger, logging.CategoryAnalysis),
	}
}

// Run executes the named analyzers (all when names is empty) concurrently.
// A failing analyzer does not stop the others; its error lands in
// RunResult.Errors. Successful outputs are saved and recorded in the project.
func (r *Runner) Run(ctx context.Context, projectPath string, names []string) (*RunResult, error) {
	meta, err := r.projects.Load(projectPath)
	if err != nil {
		return nil, err
	}
	selected, err := r.registry.Select(names)
	if err != nil {
		return nil, err
	}
	ws, err := watershed.LoadResult(ctx, project.ProcessedDir(projectPath))
	if errors.Is(err, watershed.ErrNotDelineated) {
		return nil, fmt.Errorf("%w: %s", ErrNoWatershed, meta.Name)
	}
	if err != nil {
		return nil, err
	}

	in := &Input{ProjectPath: projectPath, Project: meta, Watershed: ws}
	outputs := make([]*Output, len(selected))
	res := &RunResult{Errors: make(map[string]error)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, a := range selected {
		g.Go(func() error {
			out, err := r.runOne(ctx, a, in)
			if err == nil {
				err = SaveOutput(projectPath, out)
			}
			if err != nil {
				mu.Lock()
				res.Errors[a.Name()] = err
				mu.Unlock()
				if errors.Is(err, ErrUnavailable) {
					r.logger.Info("analyzer unavailable", zap.String("analyzer", a.Name()), zap.Error(err))
				} else {
					r.logger.Warn("analyzer failed", zap.String("analyzer", a.Name()), zap.Error(err))
				}
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outputs {
		if o != nil {
			res.Outputs = append(res.Outputs, o)
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(res.Outputs) == 0 {
		return res, nil
	}

	ran := make([]string, len(res.Outputs))
	for i, o := range res.Outputs {
		ran[i] = o.Name
	}
	_, err = r.projects.Update(projectPath, "analyze", func(m *project.Metadata) error {
		for _, n := range ran {
			m.MarkAnalyzer(n)
		}
		if m.Status != project.StatusReported {
			m.Status = project.StatusAnalyzed
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	r.logger.Info("analysis complete",
		zap.String("ran", strings.Join(ran, ",")),
		zap.Int("failed", len(res.Errors)))
	return res, nil
}

func (r *Runner) runOne(ctx context.Context, a Analyzer, in *Input) (*Output, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	timer := logging.StartTimer(r.logger, "analyzer "+a.Name())
	defer timer.Stop()

	out, err := a.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	out.Name, out.Title = a.Name(), a.Title()
	if out.GeneratedAt.IsZero() {
		out.GeneratedAt = time.Now().UTC()
	}
	return out, nil
}
