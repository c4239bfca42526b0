// Package hydro implements D8 terrain analysis on raster grids: DEM
// conditioning, flow direction, flow accumulation and catchment extraction.
package hydro

import (
	"container/heap"
	"errors"
	"math"

	"hydroai/internal/raster"
)

// ErrOutletOutside is returned when an outlet does not fall on a valid cell.
var ErrOutletOutside = errors.New("outlet outside DEM")

// neighbour offsets in D8 code order: E, SE, S, SW, W, NW, N, NE.
var (
	dRow = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
	dCol = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
)

// Condition fills pits, floods depressions and imposes drainage on flats so
// that every valid cell either drains to a strictly lower neighbour or lies on
// the grid border / next to nodata. g is modified in place and returned.
func Condition(g *raster.Grid) *raster.Grid {
	FillPits(g)
	FillDepressions(g)
	ResolveFlats(g)
	return g
}

// FillPits raises single-cell pits to the elevation of their lowest neighbour.
func FillPits(g *raster.Grid) int {
	filled := 0
	for r := 1; r < g.Rows-1; r++ {
		for c := 1; c < g.Cols-1; c++ {
			z := g.At(r, c)
			if g.IsNoData(z) {
				continue
			}
			lowest := math.Inf(1)
			pit := true
			for k := 0; k < 8; k++ {
				n := g.At(r+dRow[k], c+dCol[k])
				if g.IsNoData(n) || n <= z {
					pit = false
					break
				}
				lowest = math.Min(lowest, n)
			}
			if pit {
				g.Set(r, c, lowest)
				filled++
			}
		}
	}
	return filled
}

// FillDepressions raises every closed depression to its spill elevation
// (Priority-Flood, Barnes et al. 2014).
func FillDepressions(g *raster.Grid) {
	priorityFlood(g, false)
}

// ResolveFlats applies Priority-Flood+ε: cells that are not higher than the
// cell they were reached from are raised by the smallest representable step,
// so flats drain toward their spill point.
func ResolveFlats(g *raster.Grid) {
	priorityFlood(g, true)
}

type floodCell struct {
	z   float64
	seq int
	idx int
}

type floodQueue []floodCell

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].z != q[j].z {
		return q[i].z < q[j].z
	}
	return q[i].seq < q[j].seq
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x any)   { *q = append(*q, x.(floodCell)) }
func (q *floodQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// isSeed reports whether a valid cell can drain off the grid: it lies on the
// border or touches a nodata cell.
func isSeed(g *raster.Grid, r, c int) bool {
	if r == 0 || c == 0 || r == g.Rows-1 || c == g.Cols-1 {
		return true
	}
	for k := 0; k < 8; k++ {
		if !g.Valid(r+dRow[k], c+dCol[k]) {
			return true
		}
	}
	return false
}

func priorityFlood(g *raster.Grid, epsilon bool) {
	closed := make([]bool, len(g.Data))
	q := &floodQueue{}
	seq := 0
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			i := r*g.Cols + c
			if g.IsNoData(g.Data[i]) {
				closed[i] = true
				continue
			}
			if isSeed(g, r, c) {
				closed[i] = true
				*q = append(*q, floodCell{z: g.Data[i], seq: seq, idx: i})
				seq++
			}
		}
	}
	heap.Init(q)

	for q.Len() > 0 {
		cur := heap.Pop(q).(floodCell)
		r, c := cur.idx/g.Cols, cur.idx%g.Cols
		for k := 0; k < 8; k++ {
			nr, nc := r+dRow[k], c+dCol[k]
			if !g.InBounds(nr, nc) {
				continue
			}
			ni := nr*g.Cols + nc
			if closed[ni] {
				continue
			}
			closed[ni] = true
			z := g.Data[ni]
			if epsilon {
				if next := math.Nextafter(cur.z, math.Inf(1)); z < next {
					z = next
				}
			} else if z < cur.z {
				z = cur.z
			}
			g.Data[ni] = z
			heap.Push(q, floodCell{z: z, seq: seq, idx: ni})
			seq++
		}
	}
}
