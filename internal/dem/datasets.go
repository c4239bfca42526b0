package dem

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Dataset describes a global DEM product served by OpenTopography.
type Dataset struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Resolution  int    `json:"resolution_m"`
	Coverage    string `json:"coverage"`
	Year        int    `json:"year"`
	Recommended bool   `json:"recommended,omitempty"`
}

var catalogue = map[string]Dataset{
	"SRTMGL1": {Key: "SRTMGL1", Name: "SRTM 30m Global", Resolution: 30, Coverage: "Global (-60° to +60°)", Year: 2000, Recommended: true},
	"SRTMGL3": {Key: "SRTMGL3", Name: "SRTM 90m Global", Resolution: 90, Coverage: "Global (-60° to +60°)", Year: 2000},
	"ASTER":   {Key: "ASTER", Name: "ASTER GDEM v3", Resolution: 30, Coverage: "Global (-83° to +83°)", Year: 2019},
	"AW3D30":  {Key: "AW3D30", Name: "ALOS World 3D 30m", Resolution: 30, Coverage: "Global", Year: 2021},
	"COP30":   {Key: "COP30", Name: "Copernicus GLO-30", Resolution: 30, Coverage: "Global", Year: 2021},
	"COP90":   {Key: "COP90", Name: "Copernicus GLO-90", Resolution: 90, Coverage: "Global", Year: 2021},
	"NASADEM": {Key: "NASADEM", Name: "NASADEM 30m", Resolution: 30, Coverage: "Global (-60° to +60°)", Year: 2020},
}

// Datasets returns the catalogue sorted with the recommended dataset first,
// then by key.
func Datasets() []Dataset {
	out := make([]Dataset, 0, len(catalogue))
	for _, d := range catalogue {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Recommended != out[j].Recommended {
			return out[i].Recommended
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Lookup returns the dataset with the given key.
func Lookup(key string) (Dataset, bool) {
	d, ok := catalogue[key]
	return d, ok
}

// DefaultPath returns the file name a download for (lat, lon) is saved under.
func DefaultPath(dir, dataset string, lat, lon float64) string {
	return filepath.Join(dir, fmt.Sprintf("dem_%s_%.2f_%.2f.tif", dataset, lat, lon))
}
