// Package aoi loads the area-of-interest boundary that constrains spatial
// processing. Boundaries come from GeoJSON or ESRI shapefiles; only the first
// polygonal feature is used.
package aoi

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// AOI is a polygonal boundary with its coordinate reference system.
type AOI struct {
	Name string
	CRS  string
	// Geom is a *geom.Polygon or *geom.MultiPolygon.
	Geom geom.T
}

// Load reads an AOI, choosing the decoder from the file extension.
func Load(path string) (*AOI, error) {
	var (
		a   *AOI
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".geojson", ".json":
		a, err = loadGeoJSON(path)
	case ".shp":
		a, err = loadShapefile(path)
	default:
		return nil, eris.Errorf("aoi: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if a.Name == "" {
		a.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if a.CRS == "" {
		a.CRS = grid.DefaultCRS
	}
	return a, nil
}

// Bounds returns the envelope of the boundary.
func (a *AOI) Bounds() grid.Bounds {
	b := a.Geom.Bounds()
	return grid.Bounds{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Buffered returns the envelope grown by d (or shrunk for negative d), in
// CRS units.
func (a *AOI) Buffered(d float64) grid.Bounds {
	return a.Bounds().Expand(d)
}

// MismatchedCRS returns the layers whose CRS differs from the AOI's. Their
// crop box is the AOI envelope read in the layer's own units.
func (a *AOI) MismatchedCRS(layers []*grid.Grid) []*grid.Grid {
	var out []*grid.Grid
	for _, l := range layers {
		if l.CRS != "" && !strings.EqualFold(l.CRS, a.CRS) {
			out = append(out, l)
		}
	}
	return out
}

// Rings returns the exterior ring of every polygon as flat x/y pairs, for
// drawing outlines.
func (a *AOI) Rings() [][]geom.Coord {
	var rings [][]geom.Coord
	add := func(p *geom.Polygon) {
		if p.NumLinearRings() == 0 {
			return
		}
		rings = append(rings, p.LinearRing(0).Coords())
	}
	switch g := a.Geom.(type) {
	case *geom.Polygon:
		add(g)
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			add(g.Polygon(i))
		}
	}
	return rings
}

// WKB encodes the boundary as little-endian WKB.
func (a *AOI) WKB() ([]byte, error) {
	data, err := wkb.Marshal(a.Geom, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "aoi: encode WKB")
	}
	return data, nil
}

func polygonal(g geom.T) bool {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return true
	}
	return false
}
