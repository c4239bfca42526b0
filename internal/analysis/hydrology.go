package analysis

import (
	"context"
	"math"

	"hydroai/internal/hydro"
)

// Hydrology computes morphometric indices of the catchment.
type Hydrology struct {
	thresholdKm2 float64
}

// NewHydrology creates the hydrology analyzer. thresholdKm2 is the stream
// initiation area used when the delineation did not record one.
func NewHydrology(thresholdKm2 float64) *Hydrology {
	return &Hydrology{thresholdKm2: thresholdKm2}
}

func (h *Hydrology) Name() string  { return "hydrology" }
func (h *Hydrology) Title() string { return "Hidrologia e morfometria" }

// Morphometry holds the classic shape and drainage indices.
type Morphometry struct {
	AreaKm2          float64
	PerimeterKm      float64
	MainChannelKm    float64
	StreamLengthKm   float64
	StreamCells      int
	ReliefM          float64
	Compactness      float64 // Kc
	FormFactor       float64 // Kf
	Circularity      float64 // Ic
	DrainageDensity  float64 // km/km²
	ChannelSlopeMPKm float64
	TcKirpichMin     float64
}

// ComputeMorphometry derives the indices from area (km²), perimeter (km),
// main channel length (km), relief along it (m) and total stream length (km).
func ComputeMorphometry(areaKm2, perimeterKm, channelKm, reliefM, streamKm float64) Morphometry {
	m := Morphometry{
		AreaKm2:        areaKm2,
		PerimeterKm:    perimeterKm,
		MainChannelKm:  channelKm,
		StreamLengthKm: streamKm,
		ReliefM:        reliefM,
	}
	if areaKm2 > 0 {
		m.Compactness = 0.28 * perimeterKm / math.Sqrt(areaKm2)
		m.DrainageDensity = streamKm / areaKm2
	}
	if channelKm > 0 {
		m.FormFactor = areaKm2 / (channelKm * channelKm)
		m.ChannelSlopeMPKm = reliefM / channelKm
	}
	if perimeterKm > 0 {
		m.Circularity = 12.57 * areaKm2 / (perimeterKm * perimeterKm)
	}
	if channelKm > 0 && reliefM > 0 {
		m.TcKirpichMin = 57 * math.Pow(math.Pow(channelKm, 3)/reliefM, 0.385)
	}
	return m
}

func (h *Hydrology) Run(ctx context.Context, in *Input) (*Output, error) {
	ws := in.Watershed
	if ws == nil {
		return nil, ErrNoWatershed
	}
	fd, mask := ws.FlowDir, ws.Mask

	lengths := hydro.FlowLengths(fd, mask, ws.OutletRow, ws.OutletCol)
	channelM, headR, headC := hydro.LongestFlowPath(lengths, fd.Cols)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dem := ws.DEM
	outletZ := dem.At(ws.OutletRow, ws.OutletCol)
	relief := 0.0
	if headR >= 0 {
		relief = dem.At(headR, headC) - outletZ
	}
	minZ, maxZ := math.Inf(1), math.Inf(-1)
	for i, inMask := range mask.Cells {
		if inMask && !dem.IsNoData(dem.Data[i]) {
			minZ = math.Min(minZ, dem.Data[i])
			maxZ = math.Max(maxZ, dem.Data[i])
		}
	}
	if relief <= 0 && maxZ > minZ {
		// Conditioning can flatten the channel head; fall back to total relief.
		relief = maxZ - minZ
	}

	threshold := ws.StreamThresholdKm2
	if threshold <= 0 {
		threshold = h.thresholdKm2
	}
	streams := hydro.StreamCells(ws.Accumulation, threshold)
	streamCells := 0
	for i, s := range streams {
		if s && mask.Cells[i] {
			streamCells++
		}
	}
	streamM := hydro.StreamLength(fd, mask, streams)

	m := ComputeMorphometry(ws.Stats.AreaKm2, ws.Stats.PerimeterKm, channelM/1000, relief, streamM/1000)

	out := &Output{}
	out.add("area_km2", "Área de drenagem", m.AreaKm2, "km²", 2)
	out.add("perimeter_km", "Perímetro", m.PerimeterKm, "km", 2)
	out.add("main_channel_km", "Comprimento do talvegue principal", m.MainChannelKm, "km", 2)
	out.add("stream_length_km", "Comprimento total da rede de drenagem", m.StreamLengthKm, "km", 2)
	out.add("stream_cells", "Células de drenagem", float64(streamCells), "", 0)
	out.add("stream_threshold_km2", "Área mínima de contribuição", threshold, "km²", 2)
	out.add("relief_m", "Desnível do talvegue", m.ReliefM, "m", 1)
	out.add("compactness_kc", "Coeficiente de compacidade (Kc)", m.Compactness, "", 3)
	out.add("form_factor_kf", "Fator de forma (Kf)", m.FormFactor, "", 3)
	out.add("circularity_ic", "Índice de circularidade (Ic)", m.Circularity, "", 3)
	out.add("drainage_density", "Densidade de drenagem", m.DrainageDensity, "km/km²", 3)
	out.add("channel_slope_m_per_km", "Declividade do talvegue", m.ChannelSlopeMPKm, "m/km", 2)
	out.add("tc_kirpich_min", "Tempo de concentração (Kirpich)", m.TcKirpichMin, "min", 1)

	out.Notes = append(out.Notes, floodTendency(m))
	return out, nil
}

// floodTendency reads Kc and Kf the way Brazilian hydrology texts do.
func floodTendency(m Morphometry) string {
	switch {
	case m.Compactness > 0 && m.Compactness < 1.25 && m.FormFactor > 0.5:
		return "Bacia com alta propensão a enchentes (forma compacta e arredondada)."
	case m.Compactness < 1.5 && m.FormFactor > 0.36:
		return "Bacia com tendência mediana a enchentes."
	default:
		return "Bacia alongada, pouco sujeita a enchentes em condições normais de precipitação."
	}
}
