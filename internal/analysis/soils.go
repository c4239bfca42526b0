package analysis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"hydroai/internal/httpclient"
)

// SoilProperties are the SoilGrids layers queried, in table order.
var SoilProperties = []struct {
	Name, Label string
}{
	{"clay", "Argila"},
	{"sand", "Areia"},
	{"silt", "Silte"},
	{"soc", "Carbono orgânico"},
	{"phh2o", "pH (H₂O)"},
}

// SoilDepths are the standard depth intervals queried, with their thickness in cm.
var SoilDepths = []struct {
	Label     string
	Thickness float64
}{
	{"0-5cm", 5},
	{"5-15cm", 10},
	{"15-30cm", 15},
}

// Soils queries ISRIC SoilGrids at the outlet and classifies the topsoil
// texture.
type Soils struct {
	client *httpclient.Client
	logger *zap.Logger
}

// NewSoils creates the soils analyzer.
func NewSoils(client *httpclient.Client, logger *zap.Logger) *Soils {
	return &Soils{client: client, logger: logger}
}

func (s *Soils) Name() string  { return "soils" }
func (s *Soils) Title() string { return "Solos" }

type soilGridsResponse struct {
	Properties struct {
		Layers []struct {
			Name        string `json:"name"`
			UnitMeasure struct {
				DFactor     float64 `json:"d_factor"`
				TargetUnits string  `json:"target_units"`
			} `json:"unit_measure"`
			Depths []struct {
				Label  string `json:"label"`
				Values struct {
					Mean *float64 `json:"mean"`
				} `json:"values"`
			} `json:"depths"`
		} `json:"layers"`
	} `json:"properties"`
}

// soilLayer holds converted values per depth label.
type soilLayer struct {
	unit   string
	values map[string]float64
}

func (s *Soils) Run(ctx context.Context, in *Input) (*Output, error) {
	lat, lon, err := outletOf(in)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 5, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 5, 64))
	for _, p := range SoilProperties {
		q.Add("property", p.Name)
	}
	for _, d := range SoilDepths {
		q.Add("depth", d.Label)
	}
	q.Set("value", "mean")

	var resp soilGridsResponse
	if err := s.client.GetJSON(ctx, "soilgrids/v2.0/properties/query", q, &resp); err != nil {
		return nil, fmt.Errorf("soilgrids query: %w", err)
	}

	layers := make(map[string]soilLayer)
	for _, l := range resp.Properties.Layers {
		d := l.UnitMeasure.DFactor
		if d == 0 {
			d = 1
		}
		sl := soilLayer{unit: l.UnitMeasure.TargetUnits, values: make(map[string]float64)}
		for _, depth := range l.Depths {
			if depth.Values.Mean != nil {
				sl.values[depth.Label] = *depth.Values.Mean / d
			}
		}
		layers[l.Name] = sl
	}
	s.logger.Debug("soilgrids layers received", zap.Int("layers", len(layers)))
	return summariseSoils(layers)
}

func summariseSoils(layers map[string]soilLayer) (*Output, error) {
	out := &Output{}
	cols := []string{"Propriedade"}
	for _, d := range SoilDepths {
		cols = append(cols, d.Label)
	}
	cols = append(cols, "0-30cm")
	tbl := Table{Title: "Propriedades do solo (SoilGrids, média)", Columns: cols}

	topsoil := make(map[string]float64)
	for _, p := range SoilProperties {
		l, ok := layers[p.Name]
		if !ok || len(l.values) == 0 {
			continue
		}
		row := Row{Label: p.Label}
		var sum, weight float64
		for _, d := range SoilDepths {
			v, ok := l.values[d.Label]
			if !ok {
				row.Values = append(row.Values, 0)
				continue
			}
			row.Values = append(row.Values, v)
			sum += v * d.Thickness
			weight += d.Thickness
		}
		if weight == 0 {
			continue
		}
		topsoil[p.Name] = sum / weight
		row.Values = append(row.Values, topsoil[p.Name])
		tbl.Rows = append(tbl.Rows, row)
		out.add(p.Name+"_0_30cm", p.Label+" (0-30 cm)", topsoil[p.Name], unitLabel(p.Name, l.unit), 1)
	}
	if len(tbl.Rows) == 0 {
		return nil, fmt.Errorf("soilgrids returned no values at this location")
	}
	out.Tables = append(out.Tables, tbl)

	clay, okC := topsoil["clay"]
	sand, okS := topsoil["sand"]
	silt, okT := topsoil["silt"]
	if okC && okS && okT {
		class := TextureClass(sand, silt, clay)
		out.fact("texture_class", class)
		out.fact("hydrologic_group", HydrologicGroup(class))
		out.Notes = append(out.Notes,
			fmt.Sprintf("Classe textural USDA (0-30 cm): %s.", class),
			fmt.Sprintf("Grupo hidrológico estimado (SCS): %s.", HydrologicGroup(class)))
	} else {
		out.Notes = append(out.Notes, "Granulometria incompleta; classe textural não determinada.")
	}
	return out, nil
}

func unitLabel(name, target string) string {
	switch name {
	case "clay", "sand", "silt":
		return "%"
	case "soc":
		return "g/kg"
	case "phh2o":
		return ""
	}
	return target
}
