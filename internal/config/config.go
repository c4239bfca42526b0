package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the workspace root.
const FileName = "hydroai.yaml"

// ErrNoAPIKey is returned by RequireReportKey when no GenAI key is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// Config holds all HydroAI configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Workspace   WorkspaceConfig   `yaml:"workspace"`
	DEM         DEMConfig         `yaml:"dem"`
	Delineation DelineationConfig `yaml:"delineation"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Report      ReportConfig      `yaml:"report"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// WorkspaceConfig locates project and DEM directories. Relative paths are
// resolved against the workspace root.
type WorkspaceConfig struct {
	ProjectsDir string `yaml:"projects_dir"`
	DEMDir      string `yaml:"dem_dir"`
}

// DEMConfig configures DEM download.
type DEMConfig struct {
	Dataset  string  `yaml:"dataset"`
	BufferKm float64 `yaml:"buffer_km"`
	Timeout  string  `yaml:"timeout"`

	// Providers are tried in order. OpenTopography is skipped without an API key.
	Providers []string `yaml:"providers"`

	OpenTopography OpenTopographyConfig `yaml:"opentopography"`
	OpenElevation  OpenElevationConfig  `yaml:"openelevation"`
}

// OpenTopographyConfig configures the globaldem API.
type OpenTopographyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OpenElevationConfig configures the point-lookup fallback.
type OpenElevationConfig struct {
	BaseURL       string  `yaml:"base_url"`
	GridSizeDeg   float64 `yaml:"grid_size_deg"`
	ResolutionDeg float64 `yaml:"resolution_deg"`
	BatchSize     int     `yaml:"batch_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// DelineationConfig configures watershed delineation.
type DelineationConfig struct {
	// SnapRadiusCells moves the outlet to the highest-accumulation cell within
	// this many cells. Zero keeps the nearest cell.
	SnapRadiusCells    int      `yaml:"snap_radius_cells"`
	StreamThresholdKm2 float64  `yaml:"stream_threshold_km2"`
	Exports            []string `yaml:"exports"`
}

// AnalysisConfig configures analyzers.
type AnalysisConfig struct {
	Enabled      []string `yaml:"enabled"`
	Concurrency  int      `yaml:"concurrency"`
	Timeout      string   `yaml:"timeout"`
	ClimateYears int      `yaml:"climate_years"`
	OpenMeteoURL string   `yaml:"open_meteo_url"`
	SoilGridsURL string   `yaml:"soilgrids_url"`
}

// ReportConfig configures report generation.
type ReportConfig struct {
	Provider string `yaml:"provider"` // genai, none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Locale   string `yaml:"locale"`
	Timeout  string `yaml:"timeout"`
}

// StorageConfig configures artifact publishing to S3-compatible storage.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ServerConfig configures `hydroai serve`.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	ReadHeaderTimeout string `yaml:"read_header_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`
}

// Known DEM datasets (OpenTopography globaldem demtype values).
var ValidDatasets = []string{"SRTMGL1", "SRTMGL3", "ASTER", "AW3D30", "COP30", "COP90", "NASADEM"}

// Known analyzers, in display order.
var ValidAnalyzers = []string{"lulc", "topography", "soils", "hydrology", "climate"}

// Known delineation exports. The analysis rasters are written regardless.
var ValidExports = []string{"geojson", "gpkg", "shp", "rasters"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "HydroAI",
		Version: "0.1.0",

		Workspace: WorkspaceConfig{
			ProjectsDir: "data/projects",
			DEMDir:      "data/dem",
		},

		DEM: DEMConfig{
			Dataset:   "SRTMGL1",
			BufferKm:  25,
			Timeout:   "60s",
			Providers: []string{"opentopography", "openelevation"},
			OpenTopography: OpenTopographyConfig{
				BaseURL: "https://portal.opentopography.org",
			},
			OpenElevation: OpenElevationConfig{
				BaseURL:       "https://api.open-elevation.com",
				GridSizeDeg:   0.5,
				ResolutionDeg: 0.01,
				BatchSize:     100,
				RatePerSecond: 2,
			},
		},

		Delineation: DelineationConfig{
			SnapRadiusCells:    0,
			StreamThresholdKm2: 1.0,
			Exports:            []string{"geojson", "gpkg", "shp", "rasters"},
		},

		Analysis: AnalysisConfig{
			Enabled:      []string{"topography", "hydrology", "soils", "climate"},
			Concurrency:  4,
			Timeout:      "90s",
			ClimateYears: 10,
			OpenMeteoURL: "https://archive-api.open-meteo.com",
			SoilGridsURL: "https://rest.isric.org",
		},

		Report: ReportConfig{
			Provider: "genai",
			Model:    "gemini-2.5-flash",
			Locale:   "pt-BR",
			Timeout:  "120s",
		},

		Storage: StorageConfig{
			Bucket: "hydroai",
			Prefix: "projects",
			Region: "us-east-1",
		},

		Server: ServerConfig{
			Addr:              ":8090",
			ReadHeaderTimeout: "5s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides (including a .env file next to the config) are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENTOPOGRAPHY_API_KEY"); key != "" {
		c.DEM.OpenTopography.APIKey = key
	}

	// GEMINI_API_KEY wins over GOOGLE_API_KEY.
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Report.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Report.APIKey = key
	}

	if dir := os.Getenv("HYDROAI_PROJECTS_DIR"); dir != "" {
		c.Workspace.ProjectsDir = dir
	}
	if dir := os.Getenv("HYDROAI_DEM_DIR"); dir != "" {
		c.Workspace.DEMDir = dir
	}
	if level := os.Getenv("HYDROAI_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if v := os.Getenv("HYDROAI_S3_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
		c.Storage.Enabled = true
	}
	if v := os.Getenv("HYDROAI_S3_ACCESS_KEY"); v != "" {
		c.Storage.AccessKey = v
	}
	if v := os.Getenv("HYDROAI_S3_SECRET_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := os.Getenv("HYDROAI_S3_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetDEMTimeout returns the DEM HTTP timeout.
func (c *Config) GetDEMTimeout() time.Duration {
	return parseDuration(c.DEM.Timeout, 60*time.Second)
}

// GetAnalysisTimeout returns the per-analyzer timeout.
func (c *Config) GetAnalysisTimeout() time.Duration {
	return parseDuration(c.Analysis.Timeout, 90*time.Second)
}

// GetReportTimeout returns the report generation timeout.
func (c *Config) GetReportTimeout() time.Duration {
	return parseDuration(c.Report.Timeout, 120*time.Second)
}

// GetReadHeaderTimeout returns the HTTP server read header timeout.
func (c *Config) GetReadHeaderTimeout() time.Duration {
	return parseDuration(c.Server.ReadHeaderTimeout, 5*time.Second)
}

// ResolvePath makes p absolute relative to root unless it already is.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidDatasets, c.DEM.Dataset) {
		return fmt.Errorf("invalid DEM dataset: %s (valid: %v)", c.DEM.Dataset, ValidDatasets)
	}
	if c.DEM.BufferKm < 5 || c.DEM.BufferKm > 100 {
		return fmt.Errorf("dem.buffer_km must be between 5 and 100, got %g", c.DEM.BufferKm)
	}
	for _, p := range c.DEM.Providers {
		if p != "opentopography" && p != "openelevation" {
			return fmt.Errorf("invalid DEM provider: %s", p)
		}
	}
	if c.DEM.OpenElevation.ResolutionDeg <= 0 || c.DEM.OpenElevation.GridSizeDeg <= 0 {
		return fmt.Errorf("openelevation grid size and resolution must be positive")
	}
	if c.Delineation.StreamThresholdKm2 <= 0 {
		return fmt.Errorf("delineation.stream_threshold_km2 must be positive")
	}
	if c.Delineation.SnapRadiusCells < 0 {
		return fmt.Errorf("delineation.snap_radius_cells must not be negative")
	}
	for _, e := range c.Delineation.Exports {
		if !contains(ValidExports, e) {
			return fmt.Errorf("invalid delineation export: %s (valid: %v)", e, ValidExports)
		}
	}
	for _, name := range c.Analysis.Enabled {
		if !contains(ValidAnalyzers, name) {
			return fmt.Errorf("invalid analyzer: %s (valid: %v)", name, ValidAnalyzers)
		}
	}
	if c.Report.Provider != "genai" && c.Report.Provider != "none" {
		return fmt.Errorf("invalid report provider: %s (valid: genai, none)", c.Report.Provider)
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("storage enabled but endpoint or bucket missing")
	}
	return nil
}

// RequireReportKey returns ErrNoAPIKey when the AI narrative cannot run.
func (c *Config) RequireReportKey() error {
	if c.Report.Provider == "none" || strings.TrimSpace(c.Report.APIKey) == "" {
		return fmt.Errorf("%w (set GEMINI_API_KEY or report.api_key)", ErrNoAPIKey)
	}
	return nil
}

// FindWorkspaceRoot walks up from dir looking for hydroai.yaml or a data/projects
// directory. It falls back to dir itself.
func FindWorkspaceRoot(dir string) string {
	original := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir
		}
		if _, err := os.Stat(filepath.Join(dir, "data", "projects")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return original
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
