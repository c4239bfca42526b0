package watershed

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"
)

// Export file names.
const (
	GeoJSONFile        = "watershed.geojson"
	GeoPackageFile     = "watershed.gpkg"
	ShapefileFile      = "watershed.shp"
	CatchmentFile      = "catchment.tif"
	FlowDirFile        = "flowdir.tif"
	AccumulationFile   = "accumulation.tif"
	ConditionedDEMFile = "dem_conditioned.tif"
)

// wgs84WKT is the OGC WKT for EPSG:4326, used for .prj files and the
// GeoPackage spatial reference table.
const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// WriteGeoJSON writes mp as a one-feature FeatureCollection.
func WriteGeoJSON(path string, mp orb.MultiPolygon, stats Stats) error {
	f := geojson.NewFeature(Simplify(mp))
	for k, v := range stats.Properties() {
		f.Properties[k] = v
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadGeoJSON loads the first feature written by WriteGeoJSON.
func ReadGeoJSON(path string) (orb.MultiPolygon, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(fc.Features) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", path, ErrEmptyCatchment)
	}
	f := fc.Features[0]
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, f.Properties, nil
	case orb.MultiPolygon:
		return g, f.Properties, nil
	default:
		return nil, nil, fmt.Errorf("%s: unexpected geometry %s", path, f.Geometry.GeoJSONType())
	}
}

// WriteGeoPackage writes mp as a single-feature GeoPackage 1.3 layer named
// "watershed".
func WriteGeoPackage(ctx context.Context, path string, mp orb.MultiPolygon, stats Stats) error {
	_ = os.Remove(path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	srsID := stats.EPSG
	if srsID == 0 {
		srsID = -1
	}
	b := mp.Bound()
	stmts := []string{
		"PRAGMA application_id = 1196444487",
		"PRAGMA user_version = 10300",
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name))`,
		`CREATE TABLE watershed (
			fid INTEGER PRIMARY KEY AUTOINCREMENT,
			geom MULTIPOLYGON,
			area_km2 REAL,
			area_ha REAL,
			perimeter_km REAL,
			cell_count INTEGER,
			outlet_lat REAL,
			outlet_lon REAL)`,
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("geopackage schema: %w", err)
		}
	}

	srsRows := [][]any{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84 geodetic", 4326, "EPSG", 4326, wgs84WKT, "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	}
	if srsID > 0 && srsID != 4326 {
		name, wkt, ok := crsWKT(srsID)
		if !ok {
			// GDAL resolves the EPSG organization code when the definition is undefined.
			name, wkt = fmt.Sprintf("EPSG:%d", srsID), "undefined"
		}
		srsRows = append(srsRows, []any{name, srsID, "EPSG", srsID, wkt, ""})
	}
	for _, row := range srsRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, ?)`, row...); err != nil {
			return fmt.Errorf("geopackage srs: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, last_change, min_x, min_y, max_x, max_y, srs_id)
		 VALUES ('watershed', 'features', 'watershed', 'Delineated watershed', ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), b.Min[0], b.Min[1], b.Max[0], b.Max[1], srsID); err != nil {
		return fmt.Errorf("geopackage contents: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns VALUES ('watershed', 'geom', 'MULTIPOLYGON', ?, 0, 0)`, srsID); err != nil {
		return fmt.Errorf("geopackage geometry columns: %w", err)
	}

	blob, err := gpkgGeometry(mp, srsID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO watershed (geom, area_km2, area_ha, perimeter_km, cell_count, outlet_lat, outlet_lon) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		blob, stats.AreaKm2, stats.AreaHa, stats.PerimeterKm, stats.CellCount, stats.OutletLat, stats.OutletLon); err != nil {
		return fmt.Errorf("geopackage feature: %w", err)
	}
	return tx.Commit()
}

// gpkgGeometry encodes a GeoPackage binary geometry: header with an XY
// envelope followed by little-endian WKB.
func gpkgGeometry(g orb.Geometry, srsID int) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode wkb: %w", err)
	}
	b := g.Bound()
	var buf bytes.Buffer
	buf.WriteString("GP")
	buf.WriteByte(0)    // version 1
	buf.WriteByte(0x03) // little-endian, envelope [minx, maxx, miny, maxy]
	_ = binary.Write(&buf, binary.LittleEndian, int32(srsID))
	for _, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// ReadGeoPackage loads the watershed layer written by WriteGeoPackage.
func ReadGeoPackage(ctx context.Context, path string) (orb.MultiPolygon, int, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, 0, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, 0, err
	}
	defer db.Close()

	var blob []byte
	if err := db.QueryRowContext(ctx, `SELECT geom FROM watershed ORDER BY fid LIMIT 1`).Scan(&blob); err != nil {
		return nil, 0, fmt.Errorf("read geopackage: %w", err)
	}
	g, srsID, err := parseGPKGGeometry(blob)
	if err != nil {
		return nil, 0, err
	}
	switch geom := g.(type) {
	case orb.MultiPolygon:
		return geom, srsID, nil
	case orb.Polygon:
		return orb.MultiPolygon{geom}, srsID, nil
	default:
		return nil, 0, fmt.Errorf("unexpected geometry %s", g.GeoJSONType())
	}
}

// parseGPKGGeometry decodes a blob written by gpkgGeometry.
func parseGPKGGeometry(blob []byte) (orb.Geometry, int, error) {
	if len(blob) < 8 || string(blob[:2]) != "GP" {
		return nil, 0, fmt.Errorf("not a GeoPackage geometry")
	}
	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&1 == 1 {
		order = binary.LittleEndian
	}
	srsID := int(int32(order.Uint32(blob[4:8])))
	envelope := map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}[(flags>>1)&0x07]
	if len(blob) < 8+envelope {
		return nil, 0, fmt.Errorf("truncated GeoPackage geometry")
	}
	g, err := wkb.Unmarshal(blob[8+envelope:])
	return g, srsID, err
}

// WriteShapefile writes mp as one polygon record with attributes, plus a
// .prj when the CRS has a known WKT.
func WriteShapefile(path string, mp orb.MultiPolygon, stats Stats) error {
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}
	defer w.Close()

	// Shapefile outer rings run clockwise and holes counter-clockwise.
	var parts [][]shp.Point
	for _, poly := range mp {
		for i, ring := range poly {
			pts := make([]shp.Point, len(ring))
			for k, p := range ring {
				pts[k] = shp.Point{X: p[0], Y: p[1]}
			}
			if cw := ring.Orientation() == orb.CW; cw != (i == 0) {
				for a, z := 0, len(pts)-1; a < z; a, z = a+1, z-1 {
					pts[a], pts[z] = pts[z], pts[a]
				}
			}
			parts = append(parts, pts)
		}
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	w.Write(&poly)

	fields := []shp.Field{
		shp.NumberField("ID", 10),
		shp.FloatField("AREA_KM2", 18, 6),
		shp.FloatField("AREA_HA", 18, 4),
		shp.FloatField("PERIM_KM", 18, 6),
		shp.NumberField("CELLS", 12),
	}
	if err := w.SetFields(fields); err != nil {
		return fmt.Errorf("shapefile fields: %w", err)
	}
	values := []any{1, finite(stats.AreaKm2), finite(stats.AreaHa), finite(stats.PerimeterKm), stats.CellCount}
	for i, v := range values {
		if err := w.WriteAttribute(0, i, v); err != nil {
			return fmt.Errorf("shapefile attribute %d: %w", i, err)
		}
	}

	if _, wkt, ok := crsWKT(stats.EPSG); ok {
		prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
		if err := os.WriteFile(prj, []byte(wkt), 0644); err != nil {
			return err
		}
	}
	return nil
}

// finite replaces NaN and infinities with 0 for attribute tables.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
