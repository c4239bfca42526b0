// Package mapview renders standalone Leaflet pages for projects and their
// delineated watersheds.
package mapview

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"hydroai/internal/project"
)

// DefaultCenter and DefaultZoom frame the map when a project has no outlet.
var DefaultCenter = [2]float64{-29.409, -56.737}

const DefaultZoom = 10

// Marker is a point with a popup.
type Marker struct {
	Lat, Lon float64
	Popup    string
}

// Layer is a named GeoJSON overlay.
type Layer struct {
	Name    string
	GeoJSON json.RawMessage
	Color   string
}

// Map describes a page.
type Map struct {
	Title   string
	Center  [2]float64 // lat, lon
	Zoom    int
	Markers []Marker
	Layers  []Layer
}

type layerJS struct {
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
	Color string          `json:"color"`
}

type markerJS struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Popup string  `json:"popup"`
}

var page = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>
html, body, #map { height: 100%; margin: 0; }
.mouse-position { background: rgba(255,255,255,0.8); padding: 2px 6px; font: 12px monospace; }
</style>
</head>
<body>
<div id="map"></div>
<script>
var map = L.map('map').setView([{{index .Center 0}}, {{index .Center 1}}], {{.Zoom}});
L.tileLayer('https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png', {
  maxZoom: 19,
  attribution: '&copy; OpenStreetMap contributors'
}).addTo(map);
L.control.scale({metric: true, imperial: false}).addTo(map);

var pos = L.control({position: 'bottomleft'});
pos.onAdd = function () {
  this._div = L.DomUtil.create('div', 'mouse-position');
  return this._div;
};
pos.addTo(map);
map.on('mousemove', function (e) {
  pos._div.innerHTML = e.latlng.lat.toFixed(5) + ', ' + e.latlng.lng.toFixed(5);
});

var overlays = {};
var layers = {{.Layers}};
layers.forEach(function (l) {
  var g = L.geoJSON(l.data, {style: {color: l.color, weight: 2, fillOpacity: 0.2}}).addTo(map);
  overlays[l.name] = g;
  if (g.getBounds().isValid()) { map.fitBounds(g.getBounds(), {padding: [20, 20]}); }
});
var markers = {{.Markers}};
markers.forEach(function (m) {
  L.marker([m.lat, m.lon]).addTo(map).bindPopup(m.popup);
});
L.control.layers(null, overlays).addTo(map);
</script>
</body>
</html>
`))

// Render writes m as a standalone HTML page.
func Render(w io.Writer, m Map) error {
	if m.Zoom == 0 {
		m.Zoom = DefaultZoom
	}
	if m.Center == [2]float64{} {
		m.Center = DefaultCenter
	}
	layers := make([]layerJS, 0, len(m.Layers))
	for _, l := range m.Layers {
		if len(l.GeoJSON) == 0 {
			continue
		}
		if !json.Valid(l.GeoJSON) {
			return fmt.Errorf("layer %q: invalid GeoJSON", l.Name)
		}
		color := l.Color
		if color == "" {
			color = "#1f78b4"
		}
		layers = append(layers, layerJS{Name: l.Name, Data: l.GeoJSON, Color: color})
	}
	markers := make([]markerJS, 0, len(m.Markers))
	for _, mk := range m.Markers {
		markers = append(markers, markerJS{Lat: mk.Lat, Lon: mk.Lon, Popup: mk.Popup})
	}
	return page.Execute(w, struct {
		Title   string
		Center  [2]float64
		Zoom    int
		Layers  []layerJS
		Markers []markerJS
	}{m.Title, m.Center, m.Zoom, layers, markers})
}

// ForProject centres the map on the project outlet with an outlet marker and
// the watershed polygon when geojson is not empty.
func ForProject(meta *project.Metadata, geojson []byte) Map {
	m := Map{
		Title:  "HydroAI - " + meta.Name,
		Center: [2]float64{meta.Outlet.Lat, meta.Outlet.Lon},
		Zoom:   DefaultZoom,
		Markers: []Marker{{
			Lat:   meta.Outlet.Lat,
			Lon:   meta.Outlet.Lon,
			Popup: fmt.Sprintf("Exutório: %.5f, %.5f", meta.Outlet.Lat, meta.Outlet.Lon),
		}},
	}
	if ws := meta.Watershed; ws != nil && (ws.SnappedLat != 0 || ws.SnappedLon != 0) {
		m.Markers = append(m.Markers, Marker{
			Lat:   ws.SnappedLat,
			Lon:   ws.SnappedLon,
			Popup: fmt.Sprintf("Exutório ajustado (%.2f km²)", ws.AreaKm2),
		})
	}
	if len(geojson) > 0 {
		m.Layers = append(m.Layers, Layer{Name: "Bacia hidrográfica", GeoJSON: geojson})
	}
	return m
}
