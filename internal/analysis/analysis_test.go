package analysis

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"hydroai/internal/project"
	"hydroai/internal/raster"
	"hydroai/internal/watershed"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// valleyProject creates a project whose processed directory holds a
// delineated 20x20 valley draining south to cell (19, 10).
func valleyProject(t *testing.T) (*project.Manager, string, *raster.Grid) {
	t.Helper()
	mgr, err := project.NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	g := raster.New(20, 20, raster.GeoTransform{OriginX: -47.9, OriginY: -15.7, PixelWidth: 0.001, PixelHeight: -0.001}, 4326)
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			g.Set(r, c, 1000+10*math.Abs(float64(c-10))+float64(19-r))
		}
	}
	x, y := g.Transform.CellCenter(19, 10)

	path, err := mgr.Create("Vale", y, x, "")
	require.NoError(t, err)
	demPath := filepath.Join(project.RawDir(path), "dem.tif")
	require.NoError(t, raster.Write(demPath, g, raster.Options{}))

	_, err = watershed.NewDelineator(zap.NewNop()).Delineate(context.Background(), watershed.Request{
		Lat: y, Lon: x, DEMPath: demPath, OutputDir: project.ProcessedDir(path), StreamThresholdKm2: 0.1,
	}, nil)
	require.NoError(t, err)
	return mgr, path, g
}

func loadValley(t *testing.T, path string) *Input {
	t.Helper()
	ws, err := watershed.LoadResult(context.Background(), project.ProcessedDir(path))
	require.NoError(t, err)
	return &Input{ProjectPath: path, Watershed: ws}
}

func TestTopography(t *testing.T) {
	_, path, _ := valleyProject(t)
	out, err := NewTopography().Run(context.Background(), loadValley(t, path))
	require.NoError(t, err)

	min, _ := out.Metric("elevation_min")
	max, _ := out.Metric("elevation_max")
	amp, _ := out.Metric("amplitude")
	assert.Equal(t, 1000.0, min.Value)
	assert.Equal(t, 1119.0, max.Value)
	assert.Equal(t, 119.0, amp.Value)

	require.Len(t, out.Tables, 2)
	classes := out.Tables[0]
	require.Len(t, classes.Rows, len(SlopeClasses))
	var pct float64
	for _, r := range classes.Rows {
		require.Len(t, r.Values, len(classes.Columns)-1)
		pct += r.Values[1]
	}
	assert.InDelta(t, 100, pct, 1e-9)

	curve := out.Tables[1]
	require.Len(t, curve.Rows, HypsometricBins+1)
	assert.InDelta(t, 100, curve.Rows[0].Values[0], 1e-9)
	assert.Equal(t, "1000.0", curve.Rows[0].Label)
	assert.Equal(t, 1.0, curve.Rows[HypsometricBins].Values[1])
	for i := 1; i < len(curve.Rows); i++ {
		assert.LessOrEqual(t, curve.Rows[i].Values[0], curve.Rows[i-1].Values[0])
	}
}

func TestHydrology(t *testing.T) {
	_, path, g := valleyProject(t)
	in := loadValley(t, path)
	out, err := NewHydrology(1).Run(context.Background(), in)
	require.NoError(t, err)

	dx0, dy := g.CellSizeMeters(0)
	channel, _ := out.Metric("main_channel_km")
	// Longest path: 10 cells east along row 0, then 19 cells south.
	assert.InEpsilon(t, (10*dx0+19*dy)/1000, channel.Value, 0.01)

	// Recorded threshold wins over the analyzer default.
	thr, _ := out.Metric("stream_threshold_km2")
	assert.Equal(t, 0.1, thr.Value)
	cells, _ := out.Metric("stream_cells")
	assert.Equal(t, 80.0, cells.Value)

	dx, _ := g.CellSizeMeters(10)
	streams, _ := out.Metric("stream_length_km")
	assert.InEpsilon(t, (60*dx+19*dy)/1000, streams.Value, 0.01)

	relief, _ := out.Metric("relief_m")
	assert.Equal(t, 119.0, relief.Value)

	kc, _ := out.Metric("compactness_kc")
	want := 0.28 * in.Watershed.Stats.PerimeterKm / math.Sqrt(in.Watershed.Stats.AreaKm2)
	assert.InDelta(t, want, kc.Value, 1e-12)
	assert.NotEmpty(t, out.Notes)
}

func TestComputeMorphometry(t *testing.T) {
	m := ComputeMorphometry(100, 50, 20, 200, 150)
	assert.InDelta(t, 1.4, m.Compactness, 1e-12)
	assert.InDelta(t, 0.25, m.FormFactor, 1e-12)
	assert.InDelta(t, 0.5028, m.Circularity, 1e-12)
	assert.InDelta(t, 1.5, m.DrainageDensity, 1e-12)
	assert.InDelta(t, 10, m.ChannelSlopeMPKm, 1e-12)
	assert.InDelta(t, 57*math.Pow(40, 0.385), m.TcKirpichMin, 1e-9)

	zero := ComputeMorphometry(0, 0, 0, 0, 0)
	assert.Zero(t, zero.Compactness)
	assert.Zero(t, zero.TcKirpichMin)
}

func TestTextureClass(t *testing.T) {
	tests := []struct {
		sand, silt, clay float64
		want             string
	}{
		{92, 5, 3, TextureSand},
		{82, 12, 6, TextureLoamySand},
		{65, 20, 15, TextureSandyLoam},
		{40, 40, 20, TextureLoam},
		{20, 65, 15, TextureSiltLoam},
		{5, 88, 7, TextureSilt},
		{60, 15, 25, TextureSandyClayLoam},
		{35, 33, 32, TextureClayLoam},
		{10, 58, 32, TextureSiltyClayLoam},
		{55, 5, 40, TextureSandyClay},
		{5, 50, 45, TextureSiltyClay},
		{20, 20, 60, TextureClay},
		{0, 0, 0, TextureUndetermined},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TextureClass(tt.sand, tt.silt, tt.clay), "%v/%v/%v", tt.sand, tt.silt, tt.clay)
	}
	// Fractions that do not add up to 100 are normalised.
	assert.Equal(t, TextureClay, TextureClass(2, 2, 6))
	assert.Equal(t, "D", HydrologicGroup(TextureClay))
	assert.Equal(t, "A", HydrologicGroup(TextureSand))
}

type fakeAnalyzer struct {
	name    string
	err     error
	delay   time.Duration
	running *int32
	peak    *int32
}

func (f *fakeAnalyzer) Name() string  { return f.name }
func (f *fakeAnalyzer) Title() string { return "Fake " + f.name }
func (f *fakeAnalyzer) Run(ctx context.Context, in *Input) (*Output, error) {
	if f.running != nil {
		n := atomic.AddInt32(f.running, 1)
		defer atomic.AddInt32(f.running, -1)
		for {
			p := atomic.LoadInt32(f.peak)
			if n <= p || atomic.CompareAndSwapInt32(f.peak, p, n) {
				break
			}
		}
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := &Output{}
	out.add("cells", "Cells", float64(in.Watershed.Mask.Count), "", 0)
	return out, nil
}

func TestRunnerRunsAndRecords(t *testing.T) {
	mgr, path, _ := valleyProject(t)
	reg := NewRegistry()
	reg.Register(NewLULC())
	reg.Register(NewTopography())
	reg.Register(&fakeAnalyzer{name: "broken", err: errors.New("boom")})
	reg.Register(NewHydrology(1))

	res, err := NewRunner(reg, mgr, 2, time.Minute, zap.NewNop()).Run(context.Background(), path, nil)
	require.NoError(t, err)

	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "topography", res.Outputs[0].Name)
	assert.Equal(t, "Topografia", res.Outputs[0].Title)
	assert.Equal(t, "hydrology", res.Outputs[1].Name)
	assert.False(t, res.Outputs[0].GeneratedAt.IsZero())

	require.Len(t, res.Errors, 2)
	assert.ErrorIs(t, res.Errors["lulc"], ErrUnavailable)
	assert.EqualError(t, res.Errors["broken"], "boom")
	assert.ErrorContains(t, res.Err(), "broken: boom")

	for _, n := range []string{"topography", "hydrology"} {
		_, err := os.Stat(ResultFile(path, n))
		assert.NoError(t, err, n)
	}
	_, err = os.Stat(ResultFile(path, "lulc"))
	assert.True(t, os.IsNotExist(err))

	meta, err := mgr.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"topography", "hydrology"}, meta.AnalyzersRun)
	assert.Equal(t, project.StatusAnalyzed, meta.Status)

	outs, err := LoadOutputs(path, reg.Names())
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, res.Outputs[0].Metrics, outs[0].Metrics)
	assert.Equal(t, 1000.0, outs[0].Summary()["elevation_min"])
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	mgr, path, _ := valleyProject(t)
	var running, peak int32
	reg := NewRegistry()
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		reg.Register(&fakeAnalyzer{name: n, delay: 20 * time.Millisecond, running: &running, peak: &peak})
	}
	res, err := NewRunner(reg, mgr, 2, time.Minute, zap.NewNop()).Run(context.Background(), path, []string{"a", "b", "c", "d", "e", "a"})
	require.NoError(t, err)
	assert.Len(t, res.Outputs, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 400.0, res.Outputs[0].Metrics[0].Value)
}

func TestRunnerTimeout(t *testing.T) {
	mgr, path, _ := valleyProject(t)
	reg := NewRegistry()
	reg.Register(&fakeAnalyzer{name: "slow", delay: time.Minute})
	res, err := NewRunner(reg, mgr, 1, 10*time.Millisecond, zap.NewNop()).Run(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)
	assert.ErrorIs(t, res.Errors["slow"], context.DeadlineExceeded)
}

func TestRunnerErrors(t *testing.T) {
	mgr, err := project.NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	path, err := mgr.Create("Sem bacia", -15.7, -47.9, "")
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register(NewTopography())
	r := NewRunner(reg, mgr, 0, 0, zap.NewNop())

	_, err = r.Run(context.Background(), path, nil)
	assert.ErrorIs(t, err, ErrNoWatershed)

	_, err = r.Run(context.Background(), path, []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownAnalyzer)
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewLULC())
	reg.Register(NewTopography())
	reg.Register(NewLULC())
	assert.Equal(t, []string{"lulc", "topography"}, reg.Names())
	_, ok := reg.Get("topography")
	assert.True(t, ok)
}
