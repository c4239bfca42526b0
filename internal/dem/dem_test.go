package dem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hydroai/internal/config"
	"hydroai/internal/raster"
)

func tiffBytes(t *testing.T) []byte {
	t.Helper()
	g := raster.New(2, 2, raster.GeoTransform{OriginX: -47.1, OriginY: -15.9, PixelWidth: 0.1, PixelHeight: -0.1}, 4326)
	copy(g.Data, []float64{1000, 1001, 1002, 1003})
	var buf bytes.Buffer
	require.NoError(t, raster.Encode(&buf, g, raster.Options{}))
	return buf.Bytes()
}

func testConfig(otURL, oeURL, key string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DEM.OpenTopography.BaseURL = otURL
	cfg.DEM.OpenTopography.APIKey = key
	cfg.DEM.OpenElevation.BaseURL = oeURL
	cfg.DEM.OpenElevation.GridSizeDeg = 0.04
	cfg.DEM.OpenElevation.ResolutionDeg = 0.01
	cfg.DEM.OpenElevation.BatchSize = 5
	cfg.DEM.OpenElevation.RatePerSecond = 0
	return cfg
}

func openElevationServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v1/lookup", r.URL.Path)
		var req lookupRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		var resp lookupResponse
		for _, l := range req.Locations {
			resp.Results = append(resp.Results, struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
				Elevation float64 `json:"elevation"`
			}{l.Latitude, l.Longitude, 500 + l.Latitude*10})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenTopographyDownload(t *testing.T) {
	body := tiffBytes(t)
	ot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/API/globaldem", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "SRTMGL3", q.Get("demtype"))
		assert.Equal(t, "GTiff", q.Get("outputFormat"))
		assert.Equal(t, "k123", q.Get("API_Key"))
		assert.Equal(t, "-16.225225", q.Get("south"))
		assert.Equal(t, "-47.674775", q.Get("east"))
		_, _ = w.Write(body)
	}))
	defer ot.Close()

	d := NewDownloader(testConfig(ot.URL, "http://127.0.0.1:1", "k123"), zap.NewNop())
	assert.Equal(t, []string{"opentopography", "openelevation"}, d.Sources())

	dir := filepath.Join(t.TempDir(), "dem")
	path, err := d.Download(context.Background(), Request{Lat: -16, Lon: -47.9, BufferKm: 25, Dataset: "SRTMGL3", OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dem_SRTMGL3_-16.00_-47.90.tif"), path)

	g, err := raster.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 1001, 1002, 1003}, g.Data)
}

func TestFallbackToOpenElevation(t *testing.T) {
	ot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer ot.Close()
	var calls atomic.Int32
	oe := openElevationServer(t, &calls)
	defer oe.Close()

	d := NewDownloader(testConfig(ot.URL, oe.URL, "key"), zap.NewNop())
	path, err := d.Download(context.Background(), Request{Lat: -10, Lon: -50, OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "dem_openelevation_-10.00_-50.00.tif", filepath.Base(path))
	assert.Equal(t, int32(4), calls.Load()) // 16 points in batches of 5

	g, err := raster.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Rows)
	assert.Equal(t, 4326, g.EPSG)
	assert.InDelta(t, -9.98, g.Transform.OriginY, 1e-9)
	// North row is higher in the synthetic surface (elevation grows with latitude).
	assert.Greater(t, g.At(0, 0), g.At(3, 0))
	assert.InDelta(t, 500+(-9.985)*10, g.At(0, 0), 1e-3)
}

func TestNoKeySkipsOpenTopography(t *testing.T) {
	d := NewDownloader(testConfig("http://unused", "http://unused", ""), zap.NewNop())
	assert.Equal(t, []string{"openelevation"}, d.Sources())
}

type failingSource struct{ name string }

func (f failingSource) Name() string { return f.name }
func (f failingSource) Fetch(context.Context, Request) (string, error) {
	return "", errors.New("boom")
}

func TestAllSourcesFailed(t *testing.T) {
	d := NewDownloaderWithSources(zap.NewNop(), failingSource{"a"}, failingSource{"b"})
	_, err := d.Download(context.Background(), Request{Lat: 1, Lon: 2, OutputDir: t.TempDir()})
	require.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Contains(t, err.Error(), "b: boom")

	_, err = NewDownloaderWithSources(nil).Download(context.Background(), Request{OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
}

func TestDatasets(t *testing.T) {
	ds := Datasets()
	require.Len(t, ds, 7)
	assert.Equal(t, "SRTMGL1", ds[0].Key)
	assert.True(t, ds[0].Recommended)
	for _, key := range config.ValidDatasets {
		_, ok := Lookup(key)
		assert.True(t, ok, key)
	}
	_, ok := Lookup("MERIT")
	assert.False(t, ok)
}

func TestBoundsAround(t *testing.T) {
	b := BoundsAround(0, 0, 111)
	assert.InDelta(t, -1, b.West, 1e-12)
	assert.InDelta(t, 1, b.North, 1e-12)
}
