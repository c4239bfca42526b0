// Package project manages watershed analysis projects on disk.
//
// Each project is a directory named <safe_name>_<YYYYMMDD_HHMMSS> under the
// projects directory:
//
//	data/raw/        downloaded inputs (DEM)
//	data/processed/  delineation outputs
//	results/         analyzer outputs
//	reports/         generated reports
//	cache/
//	project.json     Metadata
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hydroai/internal/logging"
)

// ErrNotFound is returned when a project directory or its project.json is missing.
var ErrNotFound = errors.New("project not found")

// MetadataFile is the name of the per-project metadata file.
const MetadataFile = "project.json"

const (
	maxNameRunes = 50
	dirTimestamp = "20060102_150405"
)

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)

// Subdirectories created for every project.
var Layout = []string{
	filepath.Join("data", "raw"),
	filepath.Join("data", "processed"),
	"results",
	"reports",
	"cache",
}

// Layout helpers.
func RawDir(p string) string       { return filepath.Join(p, "data", "raw") }
func ProcessedDir(p string) string { return filepath.Join(p, "data", "processed") }
func ResultsDir(p string) string   { return filepath.Join(p, "results") }
func ReportsDir(p string) string   { return filepath.Join(p, "reports") }
func CacheDir(p string) string     { return filepath.Join(p, "cache") }

// Manager creates and loads projects under a base directory.
type Manager struct {
	base   string
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates base if needed.
func NewManager(base string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create projects directory: %w", err)
	}
	m := &Manager{base: base, logger: logging.Named(logger, logging.CategoryProject), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Debug("project manager initialized", zap.String("base", base))
	return m, nil
}

// Base returns the projects directory.
func (m *Manager) Base() string { return m.base }

// SanitizeName replaces characters other than letters, digits, '_' and '-'
// with '_' and truncates to 50 runes.
func SanitizeName(name string) string {
	safe := []rune(unsafeName.ReplaceAllString(name, "_"))
	if len(safe) > maxNameRunes {
		safe = safe[:maxNameRunes]
	}
	return string(safe)
}

// Create makes a new project directory and returns its path.
func (m *Manager) Create(name string, lat, lon float64, description string) (string, error) {
	now := m.now()
	dirName := fmt.Sprintf("%s_%s", SanitizeName(name), now.Format(dirTimestamp))
	path := filepath.Join(m.base, dirName)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			break
		}
		path = filepath.Join(m.base, fmt.Sprintf("%s_%d", dirName, i))
	}

	m.logger.Info("creating project", zap.String("name", name), zap.String("path", path))
	for _, sub := range Layout {
		if err := os.MkdirAll(filepath.Join(path, sub), 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", sub, err)
		}
		m.logger.Debug("created directory", zap.String("dir", sub))
	}

	meta := &Metadata{
		Name:         name,
		Description:  description,
		CreatedAt:    now,
		LastModified: now,
		Outlet:       Outlet{Lat: lat, Lon: lon},
		AnalyzersRun: []string{},
		Status:       StatusCreated,
		Version:      Version,
	}
	meta.History = append(meta.History, m.event("create", ""))
	if err := writeMetadata(path, meta); err != nil {
		return "", err
	}
	m.logger.Info("project created", zap.String("path", path))
	return path, nil
}

func (m *Manager) event(action, detail string) Event {
	return Event{ID: uuid.NewString(), Action: action, At: m.now(), Detail: detail}
}

// Load reads project.json from path.
func (m *Manager) Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(path, MetadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid %s in %s: %w", MetadataFile, path, err)
	}
	if meta.AnalyzersRun == nil {
		meta.AnalyzersRun = []string{}
	}
	m.logger.Debug("project loaded", zap.String("name", meta.Name))
	return &meta, nil
}

// Update applies fn to the project's metadata and saves it, bumping
// last_modified. action, when not empty, is appended to the history.
func (m *Manager) Update(path, action string, fn func(*Metadata) error) (*Metadata, error) {
	meta, err := m.Load(path)
	if err != nil {
		return nil, err
	}
	if err := fn(meta); err != nil {
		return nil, err
	}
	meta.LastModified = m.now()
	if action != "" {
		meta.History = append(meta.History, m.event(action, ""))
	}
	if err := writeMetadata(path, meta); err != nil {
		return nil, err
	}
	m.logger.Info("project updated", zap.String("path", path), zap.String("action", action))
	return meta, nil
}

func writeMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(path, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return os.Rename(tmp, filepath.Join(path, MetadataFile))
}

// List returns all readable projects, most recently modified first.
func (m *Manager) List() ([]Summary, error) {
	entries, err := os.ReadDir(m.base)
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.base, e.Name())
		if _, err := os.Stat(filepath.Join(path, MetadataFile)); err != nil {
			continue
		}
		meta, err := m.Load(path)
		if err != nil {
			m.logger.Warn("skipping unreadable project", zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, Summary{Metadata: *meta, Path: path, ID: e.Name()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	m.logger.Debug("projects listed", zap.Int("count", len(out)))
	return out, nil
}

// Delete removes a project directory.
func (m *Manager) Delete(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	m.logger.Info("project deleted", zap.String("path", path))
	return nil
}

// SizeMB returns the total size of files under path in MiB.
func (m *Manager) SizeMB(path string) (float64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return 0, err
	}
	return float64(total) / (1024 * 1024), nil
}

// Resolve maps a project reference to its directory. ref may be a path to a
// project directory or the name of a directory under the base.
func (m *Manager) Resolve(ref string) (string, error) {
	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = append(candidates, filepath.Join(m.base, ref))
	}
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(c, MetadataFile)); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// ResolveID resolves a directory name under the base, rejecting anything
// that would escape it.
func (m *Manager) ResolveID(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	path := filepath.Join(m.base, id)
	if _, err := os.Stat(filepath.Join(path, MetadataFile)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return path, nil
}
