package aoi

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

func loadShapefile(path string) (*AOI, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aoi: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		switch strings.ToUpper(strings.TrimRight(f.String(), "\x00")) {
		case "NAME", "ADMIN":
			nameIdx = i
		}
	}

	a := &AOI{CRS: prjCRS(path)}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		p, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		g := polygonToMultiPolygon(p)
		if g == nil {
			skipped++
			continue
		}
		a.Geom = g
		if nameIdx >= 0 {
			a.Name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}
		break
	}

	if skipped > 0 {
		zap.L().Debug("aoi: skipped non-polygon shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if a.Geom == nil {
		return nil, eris.Errorf("aoi: no polygon in shapefile %s", path)
	}
	return a, nil
}

// prjCRS reads the sidecar .prj and maps WGS84 geographic definitions to
// EPSG:4326. Other definitions are returned as WKT, which GDAL accepts.
func prjCRS(shpPath string) string {
	data, err := os.ReadFile(strings.TrimSuffix(shpPath, ".shp") + ".prj")
	if err != nil {
		return ""
	}
	wkt := strings.TrimSpace(string(data))
	if strings.HasPrefix(wkt, "GEOGCS") && strings.Contains(wkt, "WGS_1984") {
		return "EPSG:4326"
	}
	return wkt
}

// polygonToMultiPolygon converts a shapefile polygon into a multipolygon with
// one single-ring polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("aoi: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("aoi: skipping malformed polygon", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
