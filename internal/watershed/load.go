package watershed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"hydroai/internal/hydro"
	"hydroai/internal/raster"
)

// ErrNotDelineated is returned by LoadResult when dir holds no delineation.
var ErrNotDelineated = errors.New("watershed not delineated")

// Loaded is a delineation read back from disk for analysis.
type Loaded struct {
	Dir       string
	Geometry  orb.MultiPolygon
	Stats     Stats
	OutletRow int
	OutletCol int
	// StreamThresholdKm2 is the threshold used when the run was made.
	StreamThresholdKm2 float64

	// DEM is the source DEM when still present, otherwise the conditioned one.
	DEM          *raster.Grid
	Conditioned  *raster.Grid
	FlowDir      *hydro.DirGrid
	Accumulation *raster.Grid
	Mask         *hydro.Mask
}

// LoadResult reads the summary, rasters and geometry written by Delineate.
func LoadResult(ctx context.Context, dir string) (*Loaded, error) {
	data, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotDelineated, dir)
	}
	if err != nil {
		return nil, err
	}
	var s summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ResultFile, err)
	}

	l := &Loaded{
		Dir:                dir,
		Stats:              s.Stats,
		OutletRow:          s.OutletRow,
		OutletCol:          s.OutletCol,
		StreamThresholdKm2: s.ThresholdKm2,
	}

	if l.Conditioned, err = raster.Read(filepath.Join(dir, ConditionedDEMFile)); err != nil {
		return nil, fmt.Errorf("load conditioned DEM: %w", err)
	}
	l.DEM = l.Conditioned
	if s.DEMPath != "" {
		if g, err := raster.Read(s.DEMPath); err == nil && g.Rows == l.Conditioned.Rows && g.Cols == l.Conditioned.Cols {
			l.DEM = g
		}
	}

	codes, err := raster.Read(filepath.Join(dir, FlowDirFile))
	if err != nil {
		return nil, fmt.Errorf("load flow direction: %w", err)
	}
	if l.FlowDir, err = hydro.DirGridFromRaster(codes, l.Conditioned); err != nil {
		return nil, err
	}
	if l.Accumulation, err = raster.Read(filepath.Join(dir, AccumulationFile)); err != nil {
		return nil, fmt.Errorf("load accumulation: %w", err)
	}

	catch, err := raster.Read(filepath.Join(dir, CatchmentFile))
	if err != nil {
		return nil, fmt.Errorf("load catchment: %w", err)
	}
	l.Mask = &hydro.Mask{Rows: catch.Rows, Cols: catch.Cols, Cells: make([]bool, len(catch.Data))}
	for i, v := range catch.Data {
		if v == 1 {
			l.Mask.Cells[i] = true
			l.Mask.Count++
		}
	}

	// Geometry comes from the vector exports when present, else from the mask.
	if l.Geometry, _, err = ReadGeoJSON(filepath.Join(dir, GeoJSONFile)); err == nil {
		return l, nil
	}
	if l.Geometry, _, err = ReadGeoPackage(ctx, filepath.Join(dir, GeoPackageFile)); err == nil {
		return l, nil
	}
	if l.Geometry, err = Vectorize(l.Mask, l.Conditioned.Transform); err != nil {
		return nil, fmt.Errorf("load watershed geometry: %w", err)
	}
	return l, nil
}
