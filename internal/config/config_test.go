package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "HydroAI", cfg.Name)
	assert.Equal(t, "SRTMGL1", cfg.DEM.Dataset)
	assert.Equal(t, 25.0, cfg.DEM.BufferKm)
	assert.Equal(t, "data/projects", cfg.Workspace.ProjectsDir)
	assert.Equal(t, "pt-BR", cfg.Report.Locale)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	cfg := DefaultConfig()
	cfg.DEM.Dataset = "COP30"
	cfg.DEM.BufferKm = 40
	cfg.Delineation.SnapRadiusCells = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "COP30", loaded.DEM.Dataset)
	assert.Equal(t, 40.0, loaded.DEM.BufferKm)
	assert.Equal(t, 3, loaded.Delineation.SnapRadiusCells)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DEM, cfg.DEM)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("dem: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENTOPOGRAPHY_API_KEY", "")
	require.NoError(t, os.Unsetenv("OPENTOPOGRAPHY_API_KEY"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENTOPOGRAPHY_API_KEY=from-dotenv\n"), 0644))

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.DEM.OpenTopography.APIKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown dataset", func(c *Config) { c.DEM.Dataset = "GEBCO" }},
		{"buffer too small", func(c *Config) { c.DEM.BufferKm = 1 }},
		{"buffer too large", func(c *Config) { c.DEM.BufferKm = 500 }},
		{"unknown provider", func(c *Config) { c.DEM.Providers = []string{"gee"} }},
		{"zero threshold", func(c *Config) { c.Delineation.StreamThresholdKm2 = 0 }},
		{"negative snap", func(c *Config) { c.Delineation.SnapRadiusCells = -1 }},
		{"unknown export", func(c *Config) { c.Delineation.Exports = []string{"geojson", "kml"} }},
		{"unknown analyzer", func(c *Config) { c.Analysis.Enabled = []string{"geology"} }},
		{"unknown report provider", func(c *Config) { c.Report.Provider = "openai" }},
		{"storage without endpoint", func(c *Config) { c.Storage.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidateVectorOnlyExports(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delineation.Exports = []string{"geojson"}
	assert.NoError(t, cfg.Validate())
	cfg.Delineation.Exports = nil
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.GetDEMTimeout())
	assert.Equal(t, 120*time.Second, cfg.GetReportTimeout())

	cfg.DEM.Timeout = "garbage"
	cfg.Analysis.Timeout = "-5s"
	cfg.Server.ReadHeaderTimeout = "2s"
	assert.Equal(t, 60*time.Second, cfg.GetDEMTimeout())
	assert.Equal(t, 90*time.Second, cfg.GetAnalysisTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetReadHeaderTimeout())
}

func TestRequireReportKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.RequireReportKey(), ErrNoAPIKey)

	cfg.Report.APIKey = "k"
	assert.NoError(t, cfg.RequireReportKey())

	cfg.Report.Provider = "none"
	assert.ErrorIs(t, cfg.RequireReportKey(), ErrNoAPIKey)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", "data/dem"), ResolvePath("/ws", "data/dem"))
	assert.Equal(t, "/abs/dem", ResolvePath("/ws", "/abs/dem"))
	assert.Equal(t, "", ResolvePath("/ws", ""))
}

func TestFindWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("name: x\n"), 0644))
	deep := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(deep, 0755))

	assert.Equal(t, root, FindWorkspaceRoot(deep))

	lonely := t.TempDir()
	assert.Equal(t, lonely, FindWorkspaceRoot(lonely))
}
