package aoi

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type geojsonHeader struct {
	Type string `json:"type"`
	CRS  *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

var epsgURN = regexp.MustCompile(`EPSG:{1,2}(\d+)`)

func loadGeoJSON(path string) (*AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aoi: read %s", path)
	}
	return decodeGeoJSON(data)
}

func decodeGeoJSON(data []byte) (*AOI, error) {
	var hdr geojsonHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, eris.Wrap(err, "aoi: decode geojson header")
	}

	a := &AOI{CRS: crsName(hdr)}
	switch hdr.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "aoi: decode feature collection")
		}
		for _, f := range fc.Features {
			if f.Geometry != nil && polygonal(f.Geometry) {
				a.Geom = f.Geometry
				a.Name = featureName(f)
				break
			}
		}
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "aoi: decode feature")
		}
		if f.Geometry != nil && polygonal(f.Geometry) {
			a.Geom = f.Geometry
			a.Name = featureName(&f)
		}
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "aoi: decode geometry")
		}
		if polygonal(g) {
			a.Geom = g
		}
	}

	if a.Geom == nil {
		return nil, eris.New("aoi: no polygon geometry found")
	}
	return a, nil
}

func featureName(f *geojson.Feature) string {
	for _, key := range []string{"name", "NAME", "admin", "ADMIN"} {
		if v, ok := f.Properties[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func crsName(hdr geojsonHeader) string {
	if hdr.CRS == nil {
		return ""
	}
	name := hdr.CRS.Properties.Name
	if strings.HasSuffix(name, "CRS84") {
		return "EPSG:4326"
	}
	if m := epsgURN.FindStringSubmatch(name); m != nil {
		return "EPSG:" + m[1]
	}
	return name
}
