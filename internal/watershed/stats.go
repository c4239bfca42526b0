package watershed

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Stats summarises a delineated watershed.
type Stats struct {
	AreaM2          float64    `json:"area_m2"`
	AreaHa          float64    `json:"area_ha"`
	AreaKm2         float64    `json:"area_km2"`
	PerimeterM      float64    `json:"perimeter_m"`
	PerimeterKm     float64    `json:"perimeter_km"`
	Bounds          [4]float64 `json:"bounds"` // minx, miny, maxx, maxy
	EPSG            int        `json:"epsg"`
	CellCount       int        `json:"cell_count"`
	OutletLat       float64    `json:"outlet_lat"`
	OutletLon       float64    `json:"outlet_lon"`
	MaxAccumulation float64    `json:"max_accumulation"`
	Polygons        int        `json:"polygons"`
}

// measure returns area (m²) and perimeter (m) of mp. Geographic
// coordinates are measured on the sphere, projected ones in the plane.
func measure(mp orb.MultiPolygon, geographic bool) (area, perimeter float64) {
	ringArea, ringLength := planar.Area, planar.Length
	if geographic {
		ringArea, ringLength = geo.Area, geo.Length
	}
	for _, poly := range mp {
		for i, ring := range poly {
			a := math.Abs(ringArea(ring))
			if i == 0 {
				area += a
			} else {
				area -= a
			}
			perimeter += ringLength(ring)
		}
	}
	return area, perimeter
}

// ComputeStats measures mp. Cell counts and outlet fields are filled in by
// the caller.
func ComputeStats(mp orb.MultiPolygon, geographic bool, epsg int) Stats {
	area, perim := measure(mp, geographic)
	b := mp.Bound()
	return Stats{
		AreaM2:      area,
		AreaHa:      area / 1e4,
		AreaKm2:     area / 1e6,
		PerimeterM:  perim,
		PerimeterKm: perim / 1e3,
		Bounds:      [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		EPSG:        epsg,
		Polygons:    len(mp),
	}
}

// Properties returns the stats as GeoJSON/attribute properties.
func (s Stats) Properties() map[string]any {
	return map[string]any{
		"id":               1,
		"area_m2":          s.AreaM2,
		"area_ha":          s.AreaHa,
		"area_km2":         s.AreaKm2,
		"perimeter_m":      s.PerimeterM,
		"perimeter_km":     s.PerimeterKm,
		"epsg":             s.EPSG,
		"cell_count":       s.CellCount,
		"outlet_lat":       s.OutletLat,
		"outlet_lon":       s.OutletLon,
		"max_accumulation": s.MaxAccumulation,
	}
}
