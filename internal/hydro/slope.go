package hydro

import (
	"math"

	"hydroai/internal/raster"
)

// Slope returns the slope of cell (r, c) in degrees using Horn's 3x3
// operator. Missing neighbours take the centre elevation.
func Slope(g *raster.Grid, r, c int) float64 {
	z0 := g.At(r, c)
	z := func(dr, dc int) float64 {
		nr, nc := r+dr, c+dc
		if !g.InBounds(nr, nc) || !g.Valid(nr, nc) {
			return z0
		}
		return g.At(nr, nc)
	}
	dx, dy := g.CellSizeMeters(r)

	dzdx := ((z(-1, 1) + 2*z(0, 1) + z(1, 1)) - (z(-1, -1) + 2*z(0, -1) + z(1, -1))) / (8 * dx)
	dzdy := ((z(1, -1) + 2*z(1, 0) + z(1, 1)) - (z(-1, -1) + 2*z(-1, 0) + z(-1, 1))) / (8 * dy)
	return math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi
}

// SlopePercent converts degrees to percent rise.
func SlopePercent(deg float64) float64 {
	return math.Tan(deg*math.Pi/180) * 100
}
