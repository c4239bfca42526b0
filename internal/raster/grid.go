// Package raster holds single-band georeferenced grids and their GeoTIFF
// encoding. Grids are north-up: rows run north to south and columns west to east.
package raster

import (
	"errors"
	"math"
)

// ErrUnsupported is returned for TIFF layouts the codec does not handle.
var ErrUnsupported = errors.New("unsupported raster")

// Meters per degree used when a grid is in geographic coordinates.
const (
	MetersPerDegreeLon = 111_320.0
	MetersPerDegreeLat = 110_574.0
)

// GeoTransform maps cell corners to map coordinates. PixelHeight is negative
// for north-up grids.
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Corner returns the map coordinates of lattice point (row, col), the
// upper-left corner of cell (row, col). Fractional values are allowed.
func (t GeoTransform) Corner(row, col float64) (x, y float64) {
	return t.OriginX + col*t.PixelWidth, t.OriginY + row*t.PixelHeight
}

// CellCenter returns the map coordinates of the center of cell (row, col).
func (t GeoTransform) CellCenter(row, col int) (x, y float64) {
	return t.Corner(float64(row)+0.5, float64(col)+0.5)
}

// Grid is a single-band raster held as float64 in row-major order.
type Grid struct {
	Rows      int
	Cols      int
	Data      []float64
	Transform GeoTransform
	EPSG      int
	NoData    float64
	HasNoData bool
}

// New allocates a zeroed grid.
func New(rows, cols int, t GeoTransform, epsg int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols), Transform: t, EPSG: epsg}
}

// Like allocates a zeroed grid with g's shape and georeferencing.
func (g *Grid) Like() *Grid {
	return New(g.Rows, g.Cols, g.Transform, g.EPSG)
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Data = append([]float64(nil), g.Data...)
	return &c
}

// At returns the value of cell (r, c).
func (g *Grid) At(r, c int) float64 { return g.Data[r*g.Cols+c] }

// Set sets the value of cell (r, c).
func (g *Grid) Set(r, c int, v float64) { g.Data[r*g.Cols+c] = v }

// InBounds reports whether (r, c) is inside the grid.
func (g *Grid) InBounds(r, c int) bool {
	return r >= 0 && r < g.Rows && c >= 0 && c < g.Cols
}

// IsNoData reports whether v is the nodata value (NaN always counts).
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return g.HasNoData && v == g.NoData
}

// Valid reports whether cell (r, c) holds data.
func (g *Grid) Valid(r, c int) bool {
	return !g.IsNoData(g.At(r, c))
}

// Index returns the cell containing (x, y).
func (g *Grid) Index(x, y float64) (row, col int, ok bool) {
	t := g.Transform
	if t.PixelWidth == 0 || t.PixelHeight == 0 {
		return 0, 0, false
	}
	col = int(math.Floor((x - t.OriginX) / t.PixelWidth))
	row = int(math.Floor((y - t.OriginY) / t.PixelHeight))
	return row, col, g.InBounds(row, col)
}

// Bounds returns minX, minY, maxX, maxY.
func (g *Grid) Bounds() (minX, minY, maxX, maxY float64) {
	x0, y0 := g.Transform.Corner(0, 0)
	x1, y1 := g.Transform.Corner(float64(g.Rows), float64(g.Cols))
	return math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)
}

// geographicEPSG lists geographic CRS codes in common use for DEMs
// (WGS 84, NAD83, ETRS89, SIRGAS 2000).
var geographicEPSG = map[int]bool{4326: true, 4269: true, 4258: true, 4674: true}

// IsGeographic reports whether coordinates are degrees. Unknown CRS is treated
// as geographic when the extent fits in longitude/latitude ranges.
func (g *Grid) IsGeographic() bool {
	if geographicEPSG[g.EPSG] {
		return true
	}
	if g.EPSG != 0 {
		return false
	}
	minX, minY, maxX, maxY := g.Bounds()
	return minX >= -180 && maxX <= 180 && minY >= -90 && maxY <= 90
}

// CellSizeMeters returns the width and height of cells in row r in meters.
func (g *Grid) CellSizeMeters(r int) (dx, dy float64) {
	dx, dy = math.Abs(g.Transform.PixelWidth), math.Abs(g.Transform.PixelHeight)
	if !g.IsGeographic() {
		return dx, dy
	}
	_, lat := g.Transform.CellCenter(r, 0)
	return dx * MetersPerDegreeLon * math.Cos(lat*math.Pi/180), dy * MetersPerDegreeLat
}

// CellAreaM2 returns the area of a cell in row r in square meters.
func (g *Grid) CellAreaM2(r int) float64 {
	dx, dy := g.CellSizeMeters(r)
	return dx * dy
}

// Stats summarises valid cells.
type Stats struct {
	Min, Max, Mean float64
	Count          int
}

// Summary computes min/max/mean over valid cells.
func (g *Grid) Summary() Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range g.Data {
		if g.IsNoData(v) {
			continue
		}
		s.Count++
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.Count > 0 {
		s.Mean = sum / float64(s.Count)
	} else {
		s.Min, s.Max = math.NaN(), math.NaN()
	}
	return s
}
