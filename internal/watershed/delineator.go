// Package watershed runs D8 watershed delineation from a DEM and an outlet
// point, and exports the resulting catchment as vector and raster files.
package watershed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"hydroai/internal/hydro"
	"hydroai/internal/logging"
	"hydroai/internal/raster"
)

// ErrOutletOutside is returned when the outlet point is not on the DEM.
var ErrOutletOutside = hydro.ErrOutletOutside

// ResultFile holds the delineation summary next to the exports.
const ResultFile = "watershed.json"

// Export names accepted in Request.Exports.
const (
	ExportGeoJSON    = "geojson"
	ExportGeoPackage = "gpkg"
	ExportShapefile  = "shp"
	ExportRasters    = "rasters"
)

// ProgressFunc receives a percentage and a short stage description.
type ProgressFunc func(pct int, stage string)

// Request describes a delineation run.
type Request struct {
	Lat, Lon  float64
	DEMPath   string
	OutputDir string
	// SnapRadius moves the outlet to the highest accumulation within this
	// many cells. Zero uses the cell under the point.
	SnapRadius         int
	StreamThresholdKm2 float64
	Exports            []string
	// GridCoords means Lat/Lon are Y/X in the DEM's own CRS.
	GridCoords bool
}

// Result is the outcome of a delineation.
type Result struct {
	Geometry  orb.MultiPolygon
	Stats     Stats
	Files     map[string]string
	OutletRow int
	OutletCol int

	Conditioned  *raster.Grid
	FlowDir      *hydro.DirGrid
	Accumulation *raster.Grid
	Mask         *hydro.Mask
}

// summary is the on-disk form of a Result.
type summary struct {
	Stats        Stats             `json:"stats"`
	OutletRow    int               `json:"outlet_row"`
	OutletCol    int               `json:"outlet_col"`
	DEMPath      string            `json:"dem_path"`
	Files        map[string]string `json:"files"`
	ThresholdKm2 float64           `json:"stream_threshold_km2"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Delineator runs the delineation pipeline.
type Delineator struct {
	logger *zap.Logger
}

// NewDelineator creates a Delineator.
func NewDelineator(logger *zap.Logger) *Delineator {
	return &Delineator{logger: logging.Named(logger, logging.CategoryWatershed)}
}

// Delineate loads the DEM, conditions it, routes flow, extracts the catchment
// upstream of the outlet and writes the requested exports. The analysis
// rasters are always written when OutputDir is set and a failure there is
// fatal. Vector export failures are logged and skipped.
func (d *Delineator) Delineate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	timer := logging.StartTimer(d.logger, "delineate")
	defer timer.Stop()

	d.logger.Info("starting delineation",
		zap.Float64("lat", req.Lat), zap.Float64("lon", req.Lon), zap.String("dem", req.DEMPath))

	progress(10, "loading DEM")
	dem, err := raster.Read(req.DEMPath)
	if err != nil {
		return nil, fmt.Errorf("load DEM: %w", err)
	}
	if !req.GridCoords && !dem.IsGeographic() {
		return nil, fmt.Errorf("%w: DEM in EPSG:%d needs outlet coordinates in the DEM CRS", raster.ErrUnsupported, dem.EPSG)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(25, "conditioning DEM")
	conditioned := hydro.Condition(dem.Clone())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(50, "computing flow direction and accumulation")
	fd := hydro.FlowDirection(conditioned)
	acc := hydro.Accumulation(fd)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(75, "extracting catchment")
	row, col, ok := dem.Index(req.Lon, req.Lat)
	if !ok {
		return nil, fmt.Errorf("%w: (%.5f, %.5f)", ErrOutletOutside, req.Lat, req.Lon)
	}
	row, col = hydro.SnapOutlet(acc, row, col, req.SnapRadius)
	mask, err := hydro.Catchment(fd, row, col)
	if err != nil {
		return nil, err
	}
	d.logger.Info("catchment extracted", zap.Int("row", row), zap.Int("col", col), zap.Int("cells", mask.Count))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(90, "vectorizing watershed")
	mp, err := Vectorize(mask, dem.Transform)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(mp, dem.IsGeographic(), dem.EPSG)
	stats.CellCount = mask.Count
	stats.OutletLon, stats.OutletLat = dem.Transform.CellCenter(row, col)
	stats.MaxAccumulation = acc.At(row, col)

	res := &Result{
		Geometry:     mp,
		Stats:        stats,
		Files:        map[string]string{},
		OutletRow:    row,
		OutletCol:    col,
		Conditioned:  conditioned,
		FlowDir:      fd,
		Accumulation: acc,
		Mask:         mask,
	}

	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		clearOutputs(req.OutputDir)
		if err := d.writeRasters(req, res); err != nil {
			return nil, err
		}
		d.export(ctx, req, res)
		if err := d.writeSummary(req, res); err != nil {
			return nil, err
		}
	}

	progress(100, "done")
	d.logger.Info("delineation complete",
		zap.Float64("area_km2", stats.AreaKm2),
		zap.Float64("perimeter_km", stats.PerimeterKm),
		zap.Int("files", len(res.Files)))
	return res, nil
}

// outputFiles lists every file a run writes into OutputDir.
var outputFiles = []string{
	GeoJSONFile, GeoPackageFile, ShapefileFile, "watershed.shx", "watershed.dbf", "watershed.prj",
	CatchmentFile, FlowDirFile, AccumulationFile, ConditionedDEMFile, ResultFile,
}

// clearOutputs removes a previous run's files so a reload never mixes runs.
func clearOutputs(dir string) {
	for _, f := range outputFiles {
		os.Remove(filepath.Join(dir, f))
	}
}

// writeRasters writes the grids LoadResult needs to rebuild the catchment.
func (d *Delineator) writeRasters(req Request, res *Result) error {
	g := res.Conditioned
	rasters := []struct {
		name, file string
		grid       *raster.Grid
		typ        raster.SampleType
	}{
		{"catchment", CatchmentFile, hydro.MaskGrid(res.Mask, g), raster.Uint8},
		{"flowdir", FlowDirFile, res.FlowDir.Grid(), raster.Uint8},
		{"accumulation", AccumulationFile, res.Accumulation, raster.Float32},
		{"dem_conditioned", ConditionedDEMFile, g, raster.Float32},
	}
	for _, r := range rasters {
		path := filepath.Join(req.OutputDir, r.file)
		if err := raster.Write(path, r.grid, raster.Options{Type: r.typ, Compress: true}); err != nil {
			return fmt.Errorf("failed to write %s: %w", r.file, err)
		}
		res.Files[r.name] = path
		d.logger.Debug("exported", zap.String("file", path))
	}
	return nil
}

func (d *Delineator) export(ctx context.Context, req Request, res *Result) {
	exports := req.Exports
	if len(exports) == 0 {
		exports = []string{ExportGeoJSON, ExportGeoPackage, ExportShapefile}
	}
	try := func(name, file string, fn func(path string) error) {
		path := filepath.Join(req.OutputDir, file)
		if err := fn(path); err != nil {
			d.logger.Warn("export failed", zap.String("export", name), zap.String("file", file), zap.Error(err))
			return
		}
		res.Files[name] = path
		d.logger.Debug("exported", zap.String("file", path))
	}

	for _, e := range exports {
		switch e {
		case ExportGeoJSON:
			try("geojson", GeoJSONFile, func(p string) error { return WriteGeoJSON(p, res.Geometry, res.Stats) })
		case ExportGeoPackage:
			try("gpkg", GeoPackageFile, func(p string) error { return WriteGeoPackage(ctx, p, res.Geometry, res.Stats) })
		case ExportShapefile:
			try("shp", ShapefileFile, func(p string) error { return WriteShapefile(p, res.Geometry, res.Stats) })
		case ExportRasters:
			// written by writeRasters
		default:
			d.logger.Warn("unknown export ignored", zap.String("export", e))
		}
	}
}

func (d *Delineator) writeSummary(req Request, res *Result) error {
	s := summary{
		Stats:        res.Stats,
		OutletRow:    res.OutletRow,
		OutletCol:    res.OutletCol,
		DEMPath:      req.DEMPath,
		Files:        res.Files,
		ThresholdKm2: req.StreamThresholdKm2,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, ResultFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ResultFile, err)
	}
	return nil
}

// IsOutletError reports whether err means the outlet could not be placed.
func IsOutletError(err error) bool {
	return errors.Is(err, ErrOutletOutside)
}
