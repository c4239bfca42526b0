package watershed

import "fmt"

const sirgas2000WKT = `GEOGCS["SIRGAS 2000",DATUM["Sistema_de_Referencia_Geocentrico_para_las_AmericaS_2000",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],TOWGS84[0,0,0,0,0,0,0],AUTHORITY["EPSG","6674"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4674"]]`

// crsWKT returns the name and OGC WKT of the EPSG codes DEMs usually come in:
// WGS 84, SIRGAS 2000 and their UTM zones. ok is false for any other code.
func crsWKT(epsg int) (name, wkt string, ok bool) {
	switch {
	case epsg == 4326:
		return "WGS 84", wgs84WKT, true
	case epsg == 4674:
		return "SIRGAS 2000", sirgas2000WKT, true
	case epsg >= 32601 && epsg <= 32660:
		return utmWKT("WGS 84", wgs84WKT, epsg-32600, false, epsg)
	case epsg >= 32701 && epsg <= 32760:
		return utmWKT("WGS 84", wgs84WKT, epsg-32700, true, epsg)
	case epsg >= 31965 && epsg <= 31976:
		return utmWKT("SIRGAS 2000", sirgas2000WKT, epsg-31954, false, epsg)
	case epsg >= 31977 && epsg <= 31985:
		return utmWKT("SIRGAS 2000", sirgas2000WKT, epsg-31960, true, epsg)
	}
	return "", "", false
}

func utmWKT(datum, geogcs string, zone int, south bool, epsg int) (string, string, bool) {
	hemi, northing := "N", 0
	if south {
		hemi, northing = "S", 10000000
	}
	name := fmt.Sprintf("%s / UTM zone %d%s", datum, zone, hemi)
	wkt := fmt.Sprintf(`PROJCS["%s",%s,PROJECTION["Transverse_Mercator"],`+
		`PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",%d],PARAMETER["scale_factor",0.9996],`+
		`PARAMETER["false_easting",500000],PARAMETER["false_northing",%d],`+
		`UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","%d"]]`,
		name, geogcs, 6*zone-183, northing, epsg)
	return name, wkt, true
}
