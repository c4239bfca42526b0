package hydro

import (
	"fmt"
	"math"

	"hydroai/internal/raster"
)

// Mask is a boolean raster of catchment membership.
type Mask struct {
	Rows, Cols int
	Cells      []bool
	Count      int
}

// In reports whether (r, c) belongs to the mask. Out-of-range cells do not.
func (m *Mask) In(r, c int) bool {
	return r >= 0 && r < m.Rows && c >= 0 && c < m.Cols && m.Cells[r*m.Cols+c]
}

// Catchment returns every cell whose flow path passes through (r, c).
func Catchment(d *DirGrid, r, c int) (*Mask, error) {
	if r < 0 || r >= d.Rows || c < 0 || c >= d.Cols || !d.Valid[r*d.Cols+c] {
		return nil, fmt.Errorf("%w: cell (%d, %d)", ErrOutletOutside, r, c)
	}
	m := &Mask{Rows: d.Rows, Cols: d.Cols, Cells: make([]bool, len(d.Codes))}
	m.Cells[r*d.Cols+c] = true
	m.Count = 1

	queue := []int{r*d.Cols + c}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		cr, cc := i/d.Cols, i%d.Cols
		for k := 0; k < 8; k++ {
			nr, nc := cr+dRow[k], cc+dCol[k]
			if nr < 0 || nr >= d.Rows || nc < 0 || nc >= d.Cols {
				continue
			}
			ni := nr*d.Cols + nc
			if m.Cells[ni] || !d.Valid[ni] {
				continue
			}
			if dr, dc, ok := d.Downstream(nr, nc); ok && dr == cr && dc == cc {
				m.Cells[ni] = true
				m.Count++
				queue = append(queue, ni)
			}
		}
	}
	return m, nil
}

// FlowLengths returns the downstream flow distance in meters from every mask
// cell to the outlet (r, c). Cells outside the mask hold NaN.
func FlowLengths(d *DirGrid, m *Mask, r, c int) []float64 {
	out := make([]float64, len(d.Codes))
	for i := range out {
		out[i] = math.NaN()
	}
	if !m.In(r, c) {
		return out
	}
	out[r*d.Cols+c] = 0
	queue := []int{r*d.Cols + c}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		cr, cc := i/d.Cols, i%d.Cols
		for k := 0; k < 8; k++ {
			nr, nc := cr+dRow[k], cc+dCol[k]
			if !m.In(nr, nc) {
				continue
			}
			ni := nr*d.Cols + nc
			if !math.IsNaN(out[ni]) {
				continue
			}
			if dr, dc, ok := d.Downstream(nr, nc); ok && dr == cr && dc == cc {
				out[ni] = out[i] + d.StepLength(nr, nc)
				queue = append(queue, ni)
			}
		}
	}
	return out
}

// LongestFlowPath returns the maximum of FlowLengths and the cell it starts at.
func LongestFlowPath(lengths []float64, cols int) (length float64, r, c int) {
	idx := -1
	for i, v := range lengths {
		if !math.IsNaN(v) && (idx < 0 || v > length) {
			length, idx = v, i
		}
	}
	if idx < 0 {
		return 0, -1, -1
	}
	return length, idx / cols, idx % cols
}

// StreamLength sums the flow step lengths of stream cells inside the mask.
// Steps leaving the mask are not counted.
func StreamLength(d *DirGrid, m *Mask, streams []bool) float64 {
	total := 0.0
	for i, in := range m.Cells {
		if !in || !streams[i] {
			continue
		}
		r, c := i/d.Cols, i%d.Cols
		if nr, nc, ok := d.Downstream(r, c); ok && m.In(nr, nc) {
			total += d.StepLength(r, c)
		}
	}
	return total
}

// MaskGrid converts m to a 0/1 raster with g's georeferencing and nodata 0.
func MaskGrid(m *Mask, g *raster.Grid) *raster.Grid {
	out := g.Like()
	out.NoData, out.HasNoData = 0, true
	for i, in := range m.Cells {
		if in {
			out.Data[i] = 1
		}
	}
	return out
}
