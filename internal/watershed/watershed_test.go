package watershed

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hydroai/internal/hydro"
	"hydroai/internal/raster"
)

var unitTransform = raster.GeoTransform{OriginX: 0, OriginY: 10, PixelWidth: 1, PixelHeight: -1}

func maskFrom(rows []string) *hydro.Mask {
	m := &hydro.Mask{Rows: len(rows), Cols: len(rows[0])}
	m.Cells = make([]bool, m.Rows*m.Cols)
	for r, row := range rows {
		for c, ch := range row {
			if ch == '#' {
				m.Cells[r*m.Cols+c] = true
				m.Count++
			}
		}
	}
	return m
}

func TestVectorizeSingleCell(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{"...", ".#.", "..."}), unitTransform)
	require.NoError(t, err)
	require.Len(t, mp, 1)
	require.Len(t, mp[0], 1)
	ring := mp[0][0]
	assert.Len(t, ring, 5)
	assert.True(t, ring.Closed())
	assert.Equal(t, orb.CCW, ring.Orientation())
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 8}, Max: orb.Point{2, 9}}, mp.Bound())
}

func TestVectorizeLShapeDropsCollinearVertices(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{
		"#..",
		"#..",
		"###",
	}), unitTransform)
	require.NoError(t, err)
	require.Len(t, mp, 1)
	assert.Len(t, mp[0][0], 7) // 6 corners + closing point
}

func TestVectorizeDiagonalCellsAreSeparate(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{
		"#.",
		".#",
	}), unitTransform)
	require.NoError(t, err)
	assert.Len(t, mp, 2)
	for _, p := range mp {
		assert.Len(t, p[0], 5)
	}
}

func TestVectorizeHole(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{
		"###",
		"#.#",
		"###",
	}), unitTransform)
	require.NoError(t, err)
	require.Len(t, mp, 1)
	require.Len(t, mp[0], 2)
	assert.Equal(t, orb.CCW, mp[0][0].Orientation())
	assert.Equal(t, orb.CW, mp[0][1].Orientation())

	area, perim := measure(mp, false)
	assert.InDelta(t, 8.0, area, 1e-9)
	assert.InDelta(t, 16.0, perim, 1e-9)
}

func TestVectorizeHoleGoesToInnerShell(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{
		"#####",
		"#...#",
		"#.#.#",
		"#...#",
		"#####",
	}), unitTransform)
	require.NoError(t, err)
	require.Len(t, mp, 2)
	// Outer frame has the hole, the island has none.
	assert.Len(t, mp[0], 2)
	assert.Len(t, mp[1], 1)
}

func TestVectorizeEmpty(t *testing.T) {
	_, err := Vectorize(maskFrom([]string{"..", ".."}), unitTransform)
	assert.ErrorIs(t, err, ErrEmptyCatchment)
}

// writeValley writes a 20x20 geographic V-shaped valley draining south to
// cell (19, 10) and returns its path.
func writeValley(t *testing.T) (string, *raster.Grid) {
	t.Helper()
	g := raster.New(20, 20, raster.GeoTransform{OriginX: -47.9, OriginY: -15.7, PixelWidth: 0.001, PixelHeight: -0.001}, 4326)
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			g.Set(r, c, 1000+10*math.Abs(float64(c-10))+float64(19-r))
		}
	}
	g.NoData, g.HasNoData = -9999, true
	path := filepath.Join(t.TempDir(), "dem.tif")
	require.NoError(t, raster.Write(path, g, raster.Options{Compress: true}))
	return path, g
}

func TestDelineateValley(t *testing.T) {
	demPath, g := writeValley(t)
	x, y := g.Transform.CellCenter(19, 10)
	out := filepath.Join(t.TempDir(), "processed")

	var steps []int
	d := NewDelineator(zap.NewNop())
	res, err := d.Delineate(context.Background(), Request{
		Lat: y, Lon: x, DEMPath: demPath, OutputDir: out, StreamThresholdKm2: 0.1,
	}, func(pct int, _ string) { steps = append(steps, pct) })
	require.NoError(t, err)

	assert.Equal(t, []int{10, 25, 50, 75, 90, 100}, steps)
	assert.Equal(t, 400, res.Stats.CellCount)
	assert.Equal(t, 400.0, res.Stats.MaxAccumulation)
	assert.Equal(t, 1, res.Stats.Polygons)
	assert.Equal(t, 4326, res.Stats.EPSG)

	// 20 x 20 cells of about 107 m x 110.6 m.
	dx, dy := g.CellSizeMeters(10)
	assert.InEpsilon(t, 400*dx*dy, res.Stats.AreaM2, 0.02)
	assert.InDelta(t, res.Stats.AreaM2/1e6, res.Stats.AreaKm2, 1e-9)
	assert.InEpsilon(t, 2*20*(dx+dy), res.Stats.PerimeterM, 0.02)
	assert.InDelta(t, y, res.Stats.OutletLat, 1e-9)

	for _, f := range []string{GeoJSONFile, GeoPackageFile, ShapefileFile, CatchmentFile, FlowDirFile, AccumulationFile, ConditionedDEMFile, ResultFile} {
		_, err := os.Stat(filepath.Join(out, f))
		assert.NoError(t, err, f)
	}
	assert.Len(t, res.Files, 7)

	loaded, err := LoadResult(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 400, loaded.Mask.Count)
	assert.Equal(t, res.OutletRow, loaded.OutletRow)
	assert.Equal(t, 0.1, loaded.StreamThresholdKm2)
	assert.Equal(t, hydro.South, loaded.FlowDir.Code(5, 10))
	assert.Equal(t, 400.0, loaded.Accumulation.At(19, 10))
	assert.Equal(t, 1000.0, loaded.DEM.At(19, 10))
	require.Len(t, loaded.Geometry, 1)
	assert.InDelta(t, res.Stats.AreaKm2, loaded.Stats.AreaKm2, 1e-12)
}

func TestDelineateVectorExportsAreOptional(t *testing.T) {
	demPath, g := writeValley(t)
	x, y := g.Transform.CellCenter(19, 10)
	out := filepath.Join(t.TempDir(), "processed")
	d := NewDelineator(zap.NewNop())

	res, err := d.Delineate(context.Background(), Request{
		Lat: y, Lon: x, DEMPath: demPath, OutputDir: out, Exports: []string{ExportGeoJSON},
	}, nil)
	require.NoError(t, err)
	for _, f := range []string{GeoJSONFile, CatchmentFile, FlowDirFile, AccumulationFile, ConditionedDEMFile} {
		assert.FileExists(t, filepath.Join(out, f))
	}
	assert.NoFileExists(t, filepath.Join(out, GeoPackageFile))
	assert.NoFileExists(t, filepath.Join(out, ShapefileFile))
	assert.Len(t, res.Files, 5)

	loaded, err := LoadResult(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 400, loaded.Mask.Count)
	require.Len(t, loaded.Geometry, 1)

	// A rerun without vector exports drops the old GeoJSON and rebuilds the
	// geometry from the catchment raster.
	_, err = d.Delineate(context.Background(), Request{
		Lat: y, Lon: x, DEMPath: demPath, OutputDir: out, Exports: []string{ExportShapefile},
	}, nil)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(out, GeoJSONFile))

	loaded, err = LoadResult(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, loaded.Geometry, 1)
	assert.InDelta(t, res.Stats.AreaKm2, ComputeStats(loaded.Geometry, true, 4326).AreaKm2, 1e-9)
}

func TestDelineateSnapAndSubCatchment(t *testing.T) {
	demPath, g := writeValley(t)
	// A point on the valley side snaps to the channel with radius 2.
	x, y := g.Transform.CellCenter(9, 11)
	res, err := NewDelineator(zap.NewNop()).Delineate(context.Background(), Request{
		Lat: y, Lon: x, DEMPath: demPath, SnapRadius: 2,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.OutletCol)
	assert.Equal(t, 11, res.OutletRow)
	assert.Equal(t, 12*20, res.Stats.CellCount)
	assert.Empty(t, res.Files)
}

func TestDelineateErrors(t *testing.T) {
	demPath, _ := writeValley(t)
	d := NewDelineator(zap.NewNop())

	_, err := d.Delineate(context.Background(), Request{Lat: 10, Lon: 10, DEMPath: demPath}, nil)
	assert.ErrorIs(t, err, ErrOutletOutside)
	assert.True(t, IsOutletError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Delineate(ctx, Request{Lat: -15.71, Lon: -47.89, DEMPath: demPath}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = d.Delineate(context.Background(), Request{DEMPath: filepath.Join(t.TempDir(), "missing.tif")}, nil)
	assert.Error(t, err)

	_, err = LoadResult(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotDelineated)
}

func TestGeoPackageRoundTrip(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{"##", "#."}), unitTransform)
	require.NoError(t, err)
	stats := ComputeStats(mp, false, 31983)
	stats.CellCount = 3
	path := filepath.Join(t.TempDir(), GeoPackageFile)
	require.NoError(t, WriteGeoPackage(context.Background(), path, mp, stats))

	got, srs, err := ReadGeoPackage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 31983, srs)
	assert.Equal(t, mp, got)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var appID, version int
	require.NoError(t, db.QueryRow("PRAGMA application_id").Scan(&appID))
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1196444487, appID)
	assert.Equal(t, 10300, version)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM gpkg_spatial_ref_sys").Scan(&n))
	assert.Equal(t, 4, n)
	var name, def string
	require.NoError(t, db.QueryRow("SELECT srs_name, definition FROM gpkg_spatial_ref_sys WHERE srs_id = 31983").Scan(&name, &def))
	assert.Equal(t, "SIRGAS 2000 / UTM zone 23S", name)
	assert.Contains(t, def, `PARAMETER["central_meridian",-45]`)
	assert.Contains(t, def, `PARAMETER["false_northing",10000000]`)
	var cells int
	require.NoError(t, db.QueryRow("SELECT cell_count FROM watershed").Scan(&cells))
	assert.Equal(t, 3, cells)
}

func TestShapefileAndGeoJSON(t *testing.T) {
	mp, err := Vectorize(maskFrom([]string{
		"###",
		"#.#",
		"###",
	}), raster.GeoTransform{OriginX: -48, OriginY: -15, PixelWidth: 0.01, PixelHeight: -0.01})
	require.NoError(t, err)
	stats := ComputeStats(mp, true, 4326)
	dir := t.TempDir()

	shpPath := filepath.Join(dir, ShapefileFile)
	require.NoError(t, WriteShapefile(shpPath, mp, stats))
	for _, ext := range []string{".shx", ".dbf", ".prj"} {
		_, err := os.Stat(filepath.Join(dir, "watershed"+ext))
		assert.NoError(t, err, ext)
	}
	r, err := shp.Open(shpPath)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Next())
	_, shape := r.Shape()
	poly, ok := shape.(*shp.Polygon)
	require.True(t, ok)
	assert.Equal(t, int32(2), poly.NumParts)

	gjPath := filepath.Join(dir, GeoJSONFile)
	require.NoError(t, WriteGeoJSON(gjPath, mp, stats))
	got, props, err := ReadGeoJSON(gjPath)
	require.NoError(t, err)
	assert.Equal(t, mp, got)
	assert.Equal(t, float64(1), props["id"])
	assert.InDelta(t, stats.AreaKm2, props["area_km2"], 1e-9)
}

func TestCRSWKT(t *testing.T) {
	tests := []struct {
		epsg int
		name string
		want string
	}{
		{4326, "WGS 84", `AUTHORITY["EPSG","4326"]`},
		{4674, "SIRGAS 2000", `SPHEROID["GRS 1980"`},
		{32723, "WGS 84 / UTM zone 23S", `PARAMETER["central_meridian",-45]`},
		{32633, "WGS 84 / UTM zone 33N", `PARAMETER["false_northing",0]`},
		{31982, "SIRGAS 2000 / UTM zone 22S", `PARAMETER["central_meridian",-51]`},
		{31970, "SIRGAS 2000 / UTM zone 16N", `AUTHORITY["EPSG","31970"]`},
	}
	for _, tt := range tests {
		name, wkt, ok := crsWKT(tt.epsg)
		require.True(t, ok, tt.epsg)
		assert.Equal(t, tt.name, name)
		assert.Contains(t, wkt, tt.want)
	}
	_, _, ok := crsWKT(3857)
	assert.False(t, ok)
}
