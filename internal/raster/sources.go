package raster

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// tiffReader reads band 1 of any GDAL-readable raster without unit changes.
// It is used for re-reading exported layers.
type tiffReader struct {
	opts Options
}

func (r *tiffReader) Read(ctx context.Context, path string) (*grid.Grid, error) {
	g, err := readBand(ctx, path, r.opts.Name)
	if err != nil {
		return nil, err
	}
	if g.CRS == "" {
		ensureCRS(g, path)
	}
	return g, nil
}

// popReader reads GHS-POP population GeoTIFFs (inhabitants per pixel).
type popReader struct {
	opts Options
}

func (r *popReader) Read(ctx context.Context, path string) (*grid.Grid, error) {
	g, err := readBand(ctx, path, r.opts.Name)
	if err != nil {
		return nil, eris.Wrap(err, "raster: read POP")
	}
	g.Units = "#inhabitants"
	g.Description = "Population"
	if g.CRS != grid.DefaultCRS {
		ensureCRS(g, path)
	}

	var negative int
	for i, v := range g.Data {
		if v < 0 {
			g.Data[i] = math.NaN()
			negative++
		}
	}
	if negative > 0 {
		zap.L().Warn("raster: negative values in POP data set to no-data",
			zap.String("path", path),
			zap.Int("pixels", negative),
		)
	}
	return g, nil
}

// lstReader reads Copernicus Global Land LST NetCDF files.
// Physical value = DN / 100 in degrees Celsius.
type lstReader struct {
	opts Options
}

const (
	lstScale    = 0.01
	lstValidMin = -70.0
	lstValidMax = 80.0
)

func (r *lstReader) Read(ctx context.Context, path string) (*grid.Grid, error) {
	g, err := readBand(ctx, netcdfName(path, r.opts.Variable), r.opts.Name)
	if err != nil {
		return nil, eris.Wrap(err, "raster: read LST")
	}
	ensureCRS(g, path)
	g.Apply(func(v float64) float64 { return v * lstScale })

	var outside int
	for _, v := range g.Data {
		if !grid.IsNoData(v) && (v < lstValidMin || v > lstValidMax) {
			outside++
		}
	}
	if outside > 0 {
		zap.L().Warn("raster: LST values outside valid range",
			zap.String("path", path),
			zap.Int("pixels", outside),
			zap.Float64("valid_min", lstValidMin),
			zap.Float64("valid_max", lstValidMax),
		)
	}
	g.Units = "°C"
	g.Description = "Land Surface Temperature"
	return g, nil
}

// ndviReader reads Copernicus Global Land NDVI300 NetCDF files.
// Physical value = DN / 250 - 0.08; DN 254 is water, 255 is no-data.
type ndviReader struct {
	opts Options
}

const (
	ndviWater  = 254
	ndviNoData = 255
)

func (r *ndviReader) Read(ctx context.Context, path string) (*grid.Grid, error) {
	g, err := readBand(ctx, netcdfName(path, r.opts.Variable), r.opts.Name)
	if err != nil {
		return nil, eris.Wrap(err, "raster: read NDVI")
	}
	if g.CRS != grid.DefaultCRS {
		return nil, eris.Errorf("raster: NDVI CRS is %q, expected %s", g.CRS, grid.DefaultCRS)
	}
	g.MaskNoData(ndviWater)
	g.MaskNoData(ndviNoData)
	g.Apply(func(v float64) float64 { return v/250 - 0.08 })
	g.Units = "-"
	g.Description = "Normalized Difference Vegetation Index"
	return g, nil
}

// smosReader reads SMOS soil-moisture NetCDF files.
type smosReader struct {
	opts Options
}

func (r *smosReader) Read(ctx context.Context, path string) (*grid.Grid, error) {
	g, err := readBand(ctx, netcdfName(path, r.opts.Variable), r.opts.Name)
	if err != nil {
		return nil, eris.Wrap(err, "raster: read SMOS")
	}
	ensureCRS(g, path)
	g.Units = "m³/m³"
	g.Description = "Soil Moisture"
	return g, nil
}
