package project

import (
	"time"
)

// Status is the lifecycle stage of a project.
type Status string

const (
	StatusCreated    Status = "created"
	StatusDEMReady   Status = "dem_ready"
	StatusDelineated Status = "watershed_delineated"
	StatusAnalyzed   Status = "analyzed"
	StatusReported   Status = "reported"
)

// Version is written to new project files.
const Version = "0.1.0"

// Outlet is the watershed outlet point in WGS 84.
type Outlet struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WatershedSummary records the outcome of a delineation.
type WatershedSummary struct {
	AreaKm2      float64           `json:"area_km2"`
	AreaHa       float64           `json:"area_ha"`
	PerimeterKm  float64           `json:"perimeter_km"`
	CellCount    int               `json:"cell_count"`
	SnappedLat   float64           `json:"snapped_lat"`
	SnappedLon   float64           `json:"snapped_lon"`
	EPSG         int               `json:"epsg"`
	Bounds       [4]float64        `json:"bounds"`
	Files        map[string]string `json:"files,omitempty"`
	DelineatedAt time.Time         `json:"delineated_at"`
}

// Event is an entry in the project history.
type Event struct {
	ID     string    `json:"id"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Metadata is the content of project.json.
type Metadata struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	Outlet       Outlet            `json:"outlet"`
	Watershed    *WatershedSummary `json:"watershed"`
	AnalyzersRun []string          `json:"analyzers_run"`
	Status       Status            `json:"status"`
	Version      string            `json:"version"`
	DEMPath      string            `json:"dem_path,omitempty"`
	History      []Event           `json:"history,omitempty"`
}

// MarkAnalyzer records name in AnalyzersRun once.
func (m *Metadata) MarkAnalyzer(name string) {
	for _, n := range m.AnalyzersRun {
		if n == name {
			return
		}
	}
	m.AnalyzersRun = append(m.AnalyzersRun, name)
}

// Summary is a project entry returned by List.
type Summary struct {
	Metadata
	Path string `json:"path"`
	ID   string `json:"id"`
}
