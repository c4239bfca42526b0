package analysis

import (
	"context"
	"math"
	"sort"
	"strconv"

	"hydroai/internal/hydro"
)

// SlopeClass is an EMBRAPA relief class bounded by slope in percent.
type SlopeClass struct {
	Name     string
	Min, Max float64
}

// SlopeClasses follow the EMBRAPA relief classification.
var SlopeClasses = []SlopeClass{
	{"Plano", 0, 3},
	{"Suave ondulado", 3, 8},
	{"Ondulado", 8, 20},
	{"Forte ondulado", 20, 45},
	{"Montanhoso", 45, 75},
	{"Escarpado", 75, math.Inf(1)},
}

// HypsometricBins is the number of elevation steps in the hypsometric curve.
const HypsometricBins = 10

// Topography summarises elevation and slope inside the catchment.
type Topography struct{}

// NewTopography creates the topography analyzer.
func NewTopography() *Topography { return &Topography{} }

func (t *Topography) Name() string  { return "topography" }
func (t *Topography) Title() string { return "Topografia" }

type cellSample struct {
	z, slope, area float64
}

func (t *Topography) Run(ctx context.Context, in *Input) (*Output, error) {
	ws := in.Watershed
	if ws == nil {
		return nil, ErrNoWatershed
	}
	dem := ws.DEM

	var samples []cellSample
	for r := 0; r < dem.Rows; r++ {
		if r%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cellArea := dem.CellAreaM2(r)
		for c := 0; c < dem.Cols; c++ {
			if !ws.Mask.In(r, c) || !dem.Valid(r, c) {
				continue
			}
			samples = append(samples, cellSample{
				z:     dem.At(r, c),
				slope: hydro.Slope(dem, r, c),
				area:  cellArea,
			})
		}
	}
	if len(samples) == 0 {
		return nil, ErrNoWatershed
	}

	var totalArea, sumZ, sumZ2, sumSlope float64
	minZ, maxZ, maxSlope := math.Inf(1), math.Inf(-1), 0.0
	classArea := make([]float64, len(SlopeClasses))
	for _, s := range samples {
		totalArea += s.area
		sumZ += s.z
		sumZ2 += s.z * s.z
		sumSlope += s.slope
		minZ = math.Min(minZ, s.z)
		maxZ = math.Max(maxZ, s.z)
		maxSlope = math.Max(maxSlope, s.slope)
		pct := hydro.SlopePercent(s.slope)
		for i, cl := range SlopeClasses {
			if pct >= cl.Min && pct < cl.Max {
				classArea[i] += s.area
				break
			}
		}
	}
	n := float64(len(samples))
	mean := sumZ / n
	std := math.Sqrt(math.Max(0, sumZ2/n-mean*mean))
	meanSlope := sumSlope / n

	zs := make([]float64, len(samples))
	for i, s := range samples {
		zs[i] = s.z
	}
	sort.Float64s(zs)

	out := &Output{}
	out.add("elevation_min", "Altitude mínima", minZ, "m", 1)
	out.add("elevation_max", "Altitude máxima", maxZ, "m", 1)
	out.add("elevation_mean", "Altitude média", mean, "m", 1)
	out.add("elevation_median", "Altitude mediana", median(zs), "m", 1)
	out.add("elevation_std", "Desvio padrão da altitude", std, "m", 1)
	out.add("amplitude", "Amplitude altimétrica", maxZ-minZ, "m", 1)
	out.add("slope_mean_deg", "Declividade média", meanSlope, "°", 2)
	out.add("slope_mean_pct", "Declividade média", hydro.SlopePercent(meanSlope), "%", 2)
	out.add("slope_max_deg", "Declividade máxima", maxSlope, "°", 2)
	out.add("slope_max_pct", "Declividade máxima", hydro.SlopePercent(maxSlope), "%", 2)

	classes := Table{Title: "Classes de relevo (EMBRAPA)", Columns: []string{"Classe", "Área (km²)", "Área (%)"}}
	for i, cl := range SlopeClasses {
		classes.Rows = append(classes.Rows, Row{
			Label:  cl.Name,
			Values: []float64{classArea[i] / 1e6, 100 * classArea[i] / totalArea},
		})
	}
	out.Tables = append(out.Tables, classes, hypsometricCurve(samples, minZ, maxZ, totalArea))
	return out, nil
}

// hypsometricCurve returns, for evenly spaced elevations, the share of the
// catchment area lying at or above each one.
func hypsometricCurve(samples []cellSample, minZ, maxZ, totalArea float64) Table {
	tbl := Table{Title: "Curva hipsométrica", Columns: []string{"Altitude (m)", "Área acima (%)", "Altitude relativa"}}
	step := (maxZ - minZ) / HypsometricBins
	for i := 0; i <= HypsometricBins; i++ {
		z := minZ + float64(i)*step
		if i == HypsometricBins {
			z = maxZ
		}
		var above float64
		for _, s := range samples {
			if s.z >= z {
				above += s.area
			}
		}
		rel := 0.0
		if maxZ > minZ {
			rel = (z - minZ) / (maxZ - minZ)
		}
		tbl.Rows = append(tbl.Rows, Row{
			Label:  formatElevation(z),
			Values: []float64{100 * above / totalArea, rel},
		})
	}
	return tbl
}

func formatElevation(z float64) string {
	return strconv.FormatFloat(z, 'f', 1, 64)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
