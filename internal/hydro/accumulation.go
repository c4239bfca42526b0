package hydro

import (
	"math"

	"hydroai/internal/raster"
)

// Accumulation counts, for every valid cell, the cells draining through it,
// the cell itself included. Cells are processed in topological order
// (Kahn's algorithm) so each cell is visited once.
func Accumulation(d *DirGrid) *raster.Grid {
	acc := d.dem.Like()
	indeg := make([]int, len(d.Codes))
	for r := 0; r < d.Rows; r++ {
		for c := 0; c < d.Cols; c++ {
			i := r*d.Cols + c
			if !d.Valid[i] {
				continue
			}
			acc.Data[i] = 1
			if nr, nc, ok := d.Downstream(r, c); ok {
				indeg[nr*d.Cols+nc]++
			}
		}
	}

	queue := make([]int, 0, len(d.Codes))
	for i, v := range d.Valid {
		if v && indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		nr, nc, ok := d.Downstream(i/d.Cols, i%d.Cols)
		if !ok {
			continue
		}
		j := nr*d.Cols + nc
		acc.Data[j] += acc.Data[i]
		if indeg[j]--; indeg[j] == 0 {
			queue = append(queue, j)
		}
	}
	return acc
}

// SnapOutlet moves (r, c) to the cell of highest accumulation within radius
// cells. Ties go to the cell nearest the original position. A radius of 0
// returns the position unchanged.
func SnapOutlet(acc *raster.Grid, r, c, radius int) (int, int) {
	if radius <= 0 {
		return r, c
	}
	bestR, bestC := r, c
	best := math.Inf(-1)
	if acc.InBounds(r, c) {
		best = acc.At(r, c)
	}
	bestDist := 0
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			nr, nc := r+dr, c+dc
			if !acc.InBounds(nr, nc) {
				continue
			}
			v := acc.At(nr, nc)
			dist := dr*dr + dc*dc
			if v > best || (v == best && dist < bestDist) {
				best, bestR, bestC, bestDist = v, nr, nc, dist
			}
		}
	}
	return bestR, bestC
}

// StreamCells marks cells whose upstream area reaches thresholdKm2.
func StreamCells(acc *raster.Grid, thresholdKm2 float64) []bool {
	out := make([]bool, len(acc.Data))
	limit := thresholdKm2 * 1e6
	for r := 0; r < acc.Rows; r++ {
		cellArea := acc.CellAreaM2(r)
		for c := 0; c < acc.Cols; c++ {
			i := r*acc.Cols + c
			if acc.Data[i] > 0 && acc.Data[i]*cellArea >= limit {
				out[i] = true
			}
		}
	}
	return out
}
