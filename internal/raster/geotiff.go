package raster

import (
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// WriteGeoTIFF writes g as a deflate-compressed single-band Float64 GeoTIFF
// with NaN no-data. The parent directory is created when missing.
func WriteGeoTIFF(path string, g *grid.Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "raster: create directory for %s", path)
	}

	mem, err := toDataset(g)
	if err != nil {
		return err
	}
	defer mem.Close() //nolint:errcheck

	flip := false
	if _, dy := g.Resolution(); dy > 0 {
		flip = true
	}
	if flip {
		// Store north-up so every GIS reads it the same way.
		data := append([]float64(nil), g.Data...)
		flipRows(data, g.Cols(), g.Rows())
		gt := g.GeoTransform()
		gt[3] += gt[5] * float64(g.Rows())
		gt[5] = -gt[5]
		if err := mem.SetGeoTransform(gt); err != nil {
			return eris.Wrap(err, "raster: set geotransform")
		}
		if err := mem.Bands()[0].Write(0, 0, data, g.Cols(), g.Rows()); err != nil {
			return eris.Wrap(err, "raster: write flipped band")
		}
	}

	for _, kv := range metadataItems(g) {
		if err := mem.SetMetadata(kv[0], kv[1]); err != nil {
			return eris.Wrapf(err, "raster: set metadata %s", kv[0])
		}
	}

	out, err := mem.Translate(path, []string{"-of", "GTiff"},
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return eris.Wrapf(err, "raster: write %s", path)
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", path)
	}
	return nil
}

// metadataItems lists the dataset metadata written with a grid.
func metadataItems(g *grid.Grid) [][2]string {
	var items [][2]string
	if g.Description != "" {
		items = append(items, [2]string{"DESCRIPTION", g.Description})
	}
	if g.Units != "" {
		items = append(items, [2]string{"UNITS", g.Units})
	}
	if !g.Time.IsZero() {
		items = append(items, [2]string{"TIFFTAG_DATETIME", g.Time.Format("2006:01:02 15:04:05")})
	}
	return items
}
