package hydro

import (
	"fmt"
	"math"

	"hydroai/internal/raster"
)

// D8 direction codes.
const (
	East      uint8 = 1
	SouthEast uint8 = 2
	South     uint8 = 4
	SouthWest uint8 = 8
	West      uint8 = 16
	NorthWest uint8 = 32
	North     uint8 = 64
	NorthEast uint8 = 128
	NoFlow    uint8 = 0
)

var codes = [8]uint8{East, SouthEast, South, SouthWest, West, NorthWest, North, NorthEast}

// DirGrid holds D8 flow directions for the cells of a DEM.
type DirGrid struct {
	Rows, Cols int
	Codes      []uint8
	// Valid marks cells that carried data in the DEM.
	Valid []bool
	dem   *raster.Grid
}

// DEM returns the grid the directions were computed from.
func (d *DirGrid) DEM() *raster.Grid { return d.dem }

// Code returns the direction code of cell (r, c).
func (d *DirGrid) Code(r, c int) uint8 { return d.Codes[r*d.Cols+c] }

// Downstream returns the cell that (r, c) drains into. ok is false for
// NoFlow cells and for flow leaving the grid.
func (d *DirGrid) Downstream(r, c int) (nr, nc int, ok bool) {
	k := codeIndex(d.Code(r, c))
	if k < 0 {
		return 0, 0, false
	}
	nr, nc = r+dRow[k], c+dCol[k]
	if nr < 0 || nr >= d.Rows || nc < 0 || nc >= d.Cols || !d.Valid[nr*d.Cols+nc] {
		return 0, 0, false
	}
	return nr, nc, true
}

// StepLength returns the length in meters of the flow step leaving (r, c),
// or 0 for NoFlow cells.
func (d *DirGrid) StepLength(r, c int) float64 {
	k := codeIndex(d.Code(r, c))
	if k < 0 {
		return 0
	}
	dx, dy := d.dem.CellSizeMeters(r)
	return stepLength(k, dx, dy)
}

// Grid returns the codes as a raster sharing the DEM's georeferencing.
func (d *DirGrid) Grid() *raster.Grid {
	g := d.dem.Like()
	for i, code := range d.Codes {
		g.Data[i] = float64(code)
	}
	return g
}

func codeIndex(code uint8) int {
	for k, c := range codes {
		if c == code {
			return k
		}
	}
	return -1
}

func stepLength(k int, dx, dy float64) float64 {
	switch {
	case dRow[k] == 0:
		return dx
	case dCol[k] == 0:
		return dy
	default:
		return math.Hypot(dx, dy)
	}
}

// FlowDirection assigns each valid cell the direction of steepest descent.
// Cells without a strictly lower valid neighbour get NoFlow.
func FlowDirection(g *raster.Grid) *DirGrid {
	d := &DirGrid{
		Rows:  g.Rows,
		Cols:  g.Cols,
		Codes: make([]uint8, len(g.Data)),
		Valid: make([]bool, len(g.Data)),
		dem:   g,
	}
	for r := 0; r < g.Rows; r++ {
		dx, dy := g.CellSizeMeters(r)
		for c := 0; c < g.Cols; c++ {
			i := r*g.Cols + c
			z := g.Data[i]
			if g.IsNoData(z) {
				continue
			}
			d.Valid[i] = true

			best, bestK := 0.0, -1
			for k := 0; k < 8; k++ {
				nr, nc := r+dRow[k], c+dCol[k]
				if !g.InBounds(nr, nc) || !g.Valid(nr, nc) {
					continue
				}
				drop := (z - g.At(nr, nc)) / stepLength(k, dx, dy)
				if drop > best {
					best, bestK = drop, k
				}
			}
			if bestK >= 0 {
				d.Codes[i] = codes[bestK]
			}
		}
	}
	return d
}

// DirGridFromRaster rebuilds a DirGrid from a saved code raster. Validity
// is taken from dem, which must have the same shape.
func DirGridFromRaster(saved, dem *raster.Grid) (*DirGrid, error) {
	if saved.Rows != dem.Rows || saved.Cols != dem.Cols {
		return nil, fmt.Errorf("flow direction grid is %dx%d, DEM is %dx%d", saved.Rows, saved.Cols, dem.Rows, dem.Cols)
	}
	d := &DirGrid{
		Rows:  dem.Rows,
		Cols:  dem.Cols,
		Codes: make([]uint8, len(dem.Data)),
		Valid: make([]bool, len(dem.Data)),
		dem:   dem,
	}
	for i, v := range saved.Data {
		d.Valid[i] = !dem.IsNoData(dem.Data[i])
		if d.Valid[i] && codeIndex(uint8(v)) >= 0 {
			d.Codes[i] = uint8(v)
		}
	}
	return d, nil
}
