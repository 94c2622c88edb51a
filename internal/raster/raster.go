// Package raster adapts GDAL (through godal) to the grid model: one reader per
// data source, warp-to-match for alignment and GeoTIFF export.
package raster

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// Kind identifies a data source and its format quirks.
type Kind string

// Supported source kinds.
const (
	KindPOP     Kind = "pop"
	KindLST     Kind = "lst"
	KindNDVI    Kind = "ndvi"
	KindSMAP    Kind = "smap"
	KindSMOS    Kind = "smos"
	KindGeoTIFF Kind = "geotiff"
)

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindPOP, KindLST, KindNDVI, KindSMAP, KindSMOS, KindGeoTIFF}
}

// Reader opens one raster file and returns it as a normalised grid: physical
// units, NaN no-data, a CRS and pixel-centre coordinates.
type Reader interface {
	Read(ctx context.Context, path string) (*grid.Grid, error)
}

// Options customises a reader.
type Options struct {
	// Name overrides the grid name (defaults to the upper-cased kind).
	Name string
	// Variable selects the NetCDF variable or HDF5 dataset.
	Variable string
	// Group selects the HDF5 group (SMAP).
	Group string
}

// Open returns the reader for a source kind.
func Open(kind Kind, opts Options) (Reader, error) {
	if opts.Name == "" {
		opts.Name = strings.ToUpper(string(kind))
	}
	switch kind {
	case KindPOP:
		return &popReader{opts: opts}, nil
	case KindLST:
		return &lstReader{opts: withVariable(opts, "LST")}, nil
	case KindNDVI:
		return &ndviReader{opts: withVariable(opts, "NDVI")}, nil
	case KindSMAP:
		return newSMAPReader(opts), nil
	case KindSMOS:
		return &smosReader{opts: withVariable(opts, "SMOS")}, nil
	case KindGeoTIFF:
		return &tiffReader{opts: opts}, nil
	}
	return nil, eris.Errorf("raster: unknown source kind %q (supported: %v)", kind, Kinds())
}

func withVariable(opts Options, v string) Options {
	if opts.Variable == "" {
		opts.Variable = v
	}
	return opts
}

var registerOnce sync.Once

func register() {
	registerOnce.Do(godal.RegisterAll)
}

// netcdfName builds the GDAL subdataset name of a NetCDF variable.
func netcdfName(path, variable string) string {
	return `NETCDF:"` + path + `":` + variable
}

// hdf5Name builds the GDAL subdataset name of an HDF5 dataset.
func hdf5Name(path, group, dataset string) string {
	return `HDF5:"` + path + `"://` + group + "/" + dataset
}

// readBand opens a GDAL dataset and reads band 1 into a grid. The band's
// no-data value, if any, is replaced with NaN.
func readBand(ctx context.Context, dsName, name string) (*grid.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	register()

	ds, err := godal.Open(dsName)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", dsName)
	}
	defer ds.Close() //nolint:errcheck

	st := ds.Structure()
	if st.NBands < 1 {
		return nil, eris.Errorf("raster: %s has no bands", dsName)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, eris.Wrapf(err, "raster: geotransform of %s", dsName)
	}

	x, y := grid.CoordsFromGeoTransform(gt, st.SizeX, st.SizeY)
	g := grid.New(name, datasetCRS(ds), x, y)

	band := ds.Bands()[0]
	if err := band.Read(0, 0, g.Data, st.SizeX, st.SizeY); err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", dsName)
	}
	if nd, ok := band.NoData(); ok {
		g.MaskNoData(nd)
	}
	g.NoData = math.NaN()
	return g, nil
}

// readArray reads band 1 of a dataset as a flat float64 array with its shape.
// It is used for auxiliary arrays such as coordinates and quality flags.
func readArray(ctx context.Context, dsName string) ([]float64, int, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}
	register()

	ds, err := godal.Open(dsName)
	if err != nil {
		return nil, 0, 0, eris.Wrapf(err, "raster: open %s", dsName)
	}
	defer ds.Close() //nolint:errcheck

	st := ds.Structure()
	buf := make([]float64, st.SizeX*st.SizeY)
	if err := ds.Bands()[0].Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
		return nil, 0, 0, eris.Wrapf(err, "raster: read %s", dsName)
	}
	return buf, st.SizeY, st.SizeX, nil
}

func datasetCRS(ds *godal.Dataset) string {
	if ds.Projection() == "" {
		return ""
	}
	sr := ds.SpatialRef()
	defer sr.Close()
	if name, code := sr.AuthorityName(""), sr.AuthorityCode(""); name != "" && code != "" {
		return name + ":" + code
	}
	return ds.Projection()
}

// ensureCRS forces a missing or unexpected CRS to EPSG:4326 and warns, the
// best-effort correction for sources whose metadata GDAL does not resolve.
func ensureCRS(g *grid.Grid, source string) {
	if g.CRS == grid.DefaultCRS {
		return
	}
	zap.L().Warn("raster: forcing CRS",
		zap.String("source", source),
		zap.String("found", g.CRS),
		zap.String("forced", grid.DefaultCRS),
	)
	g.CRS = grid.DefaultCRS
}
