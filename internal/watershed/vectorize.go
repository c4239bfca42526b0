package watershed

import (
	"errors"
	"sort"

	"github.com/paulmach/orb"

	"hydroai/internal/hydro"
	"hydroai/internal/raster"
)

// ErrEmptyCatchment is returned when a mask yields no polygon.
var ErrEmptyCatchment = errors.New("catchment is empty")

// vertex is a lattice point: x is a column boundary, y a row boundary.
type vertex struct{ x, y int }

type edge struct {
	from, to vertex
	used     bool
}

func (e *edge) dir() (int, int) { return e.to.x - e.from.x, e.to.y - e.from.y }

// Vectorize traces the outline of the mask into polygons in map coordinates.
// Cells touching only at a corner become separate polygons.
func Vectorize(m *hydro.Mask, t raster.GeoTransform) (orb.MultiPolygon, error) {
	edges, out := boundaryEdges(m)
	if len(edges) == 0 {
		return nil, ErrEmptyCatchment
	}

	var shells, holes [][]vertex
	for i := range edges {
		if edges[i].used {
			continue
		}
		ring := traceRing(edges, out, i)
		ring = dropCollinear(ring)
		if len(ring) < 4 {
			continue
		}
		if latticeArea(ring) > 0 {
			shells = append(shells, ring)
		} else {
			holes = append(holes, ring)
		}
	}
	if len(shells) == 0 {
		return nil, ErrEmptyCatchment
	}

	// Each hole goes to the smallest shell containing it.
	sort.SliceStable(shells, func(i, j int) bool { return latticeArea(shells[i]) < latticeArea(shells[j]) })
	shellHoles := make([][][]vertex, len(shells))
	for _, h := range holes {
		px, py := holeProbe(h)
		for si, s := range shells {
			if containsPoint(s, px, py) {
				shellHoles[si] = append(shellHoles[si], h)
				break
			}
		}
	}

	mp := make(orb.MultiPolygon, 0, len(shells))
	for i := len(shells) - 1; i >= 0; i-- {
		poly := orb.Polygon{toRing(shells[i], t)}
		for _, h := range shellHoles[i] {
			poly = append(poly, toRing(h, t))
		}
		mp = append(mp, poly)
	}
	return mp, nil
}

// Simplify returns a Polygon when mp holds a single polygon.
func Simplify(mp orb.MultiPolygon) orb.Geometry {
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// boundaryEdges returns the directed cell-boundary edges of the mask with the
// mask on the right (rows growing downward), and an index by start vertex.
func boundaryEdges(m *hydro.Mask) ([]edge, map[vertex][]int) {
	var edges []edge
	add := func(x0, y0, x1, y1 int) {
		edges = append(edges, edge{from: vertex{x0, y0}, to: vertex{x1, y1}})
	}
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			if !m.In(r, c) {
				continue
			}
			if !m.In(r-1, c) {
				add(c, r, c+1, r)
			}
			if !m.In(r, c+1) {
				add(c+1, r, c+1, r+1)
			}
			if !m.In(r+1, c) {
				add(c+1, r+1, c, r+1)
			}
			if !m.In(r, c-1) {
				add(c, r+1, c, r)
			}
		}
	}
	out := make(map[vertex][]int, len(edges))
	for i, e := range edges {
		out[e.from] = append(out[e.from], i)
	}
	return edges, out
}

// turnRank orders the turn from direction (dx, dy) to (nx, ny): right first,
// then straight, then left.
func turnRank(dx, dy, nx, ny int) int {
	switch {
	case nx == -dy && ny == dx:
		return 0
	case nx == dx && ny == dy:
		return 1
	default:
		return 2
	}
}

func traceRing(edges []edge, out map[vertex][]int, first int) []vertex {
	start := edges[first].from
	ring := []vertex{start}
	cur := first
	edges[cur].used = true
	for {
		e := &edges[cur]
		dx, dy := e.dir()
		next, rank := -1, 3
		for _, j := range out[e.to] {
			if edges[j].used && j != first {
				continue
			}
			nx, ny := edges[j].dir()
			if r := turnRank(dx, dy, nx, ny); r < rank {
				next, rank = j, r
			}
		}
		if next == -1 || next == first {
			return ring
		}
		ring = append(ring, e.to)
		edges[next].used = true
		cur = next
	}
}

// dropCollinear removes vertices that lie on a straight run, treating the
// ring as cyclic.
func dropCollinear(ring []vertex) []vertex {
	n := len(ring)
	if n < 3 {
		return ring
	}
	out := make([]vertex, 0, n)
	for i := 0; i < n; i++ {
		prev, cur, next := ring[(i+n-1)%n], ring[i], ring[(i+1)%n]
		ax, ay := cur.x-prev.x, cur.y-prev.y
		bx, by := next.x-cur.x, next.y-cur.y
		if ax*by-ay*bx == 0 && ax*bx+ay*by > 0 {
			continue
		}
		out = append(out, cur)
	}
	return out
}

// latticeArea is the shoelace area with rows growing downward: positive for
// outer boundaries, negative for holes.
func latticeArea(ring []vertex) float64 {
	s := 0
	for i := range ring {
		a, b := ring[i], ring[(i+1)%len(ring)]
		s += a.x*b.y - b.x*a.y
	}
	return float64(s) / 2
}

// holeProbe returns the centre of the cell on the left of the first unit
// step of h, which lies inside the hole.
func holeProbe(h []vertex) (float64, float64) {
	a, b := h[0], h[1%len(h)]
	dx, dy := float64(sign(b.x-a.x)), float64(sign(b.y-a.y))
	return float64(a.x) + 0.5*dx + 0.5*dy, float64(a.y) + 0.5*dy - 0.5*dx
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// containsPoint is an even-odd ray cast on a lattice ring.
func containsPoint(ring []vertex, px, py float64) bool {
	in := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := float64(ring[i].x), float64(ring[i].y)
		xj, yj := float64(ring[j].x), float64(ring[j].y)
		if (yi > py) != (yj > py) && px < (xj-xi)*(py-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

func toRing(v []vertex, t raster.GeoTransform) orb.Ring {
	ring := make(orb.Ring, 0, len(v)+1)
	for _, p := range v {
		x, y := t.Corner(float64(p.y), float64(p.x))
		ring = append(ring, orb.Point{x, y})
	}
	ring = append(ring, ring[0])
	if t.PixelHeight < 0 {
		// North-up grids mirror the lattice, which leaves shells clockwise.
		ring.Reverse()
	}
	return ring
}
