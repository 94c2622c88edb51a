package raster

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// Resampling is a GDAL warp resampling algorithm.
type Resampling string

// Supported resampling algorithms.
const (
	Nearest  Resampling = "near"
	Bilinear Resampling = "bilinear"
	Cubic    Resampling = "cubic"
	Average  Resampling = "average"
	Mode     Resampling = "mode"
)

// ParseResampling maps a configuration name to a Resampling. The empty
// string selects bilinear.
func ParseResampling(s string) (Resampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "near":
		return Nearest, nil
	case "", "bilinear":
		return Bilinear, nil
	case "cubic":
		return Cubic, nil
	case "average":
		return Average, nil
	case "mode":
		return Mode, nil
	}
	return "", eris.Errorf("raster: unknown resampling %q", s)
}

// Warper reprojects grids. ReprojectMatch returns src on exactly the
// reference's CRS, shape and coordinates. Resample scales the pixel count of
// a grid by factor in both directions, keeping its extent.
type Warper interface {
	ReprojectMatch(ctx context.Context, src, ref *grid.Grid, method Resampling) (*grid.Grid, error)
	Resample(ctx context.Context, src *grid.Grid, factor float64, method Resampling) (*grid.Grid, error)
}

// GDALWarper implements Warper with in-memory GDAL warps.
type GDALWarper struct{}

// NewGDALWarper returns a Warper backed by GDAL.
func NewGDALWarper() *GDALWarper {
	register()
	return &GDALWarper{}
}

// ReprojectMatch warps src onto the reference grid.
func (w *GDALWarper) ReprojectMatch(ctx context.Context, src, ref *grid.Grid, method Resampling) (*grid.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Cols() == 0 || ref.Rows() == 0 {
		return nil, eris.Errorf("raster: reference %s is empty", ref.Name)
	}

	out, err := w.warp(src, ref.CRS, ref.Bounds(), ref.Cols(), ref.Rows(), method)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: reproject %s to match %s", src.Name, ref.Name)
	}
	// GDAL writes north-up; flip when the reference stores rows south to north.
	if _, dy := ref.Resolution(); dy > 0 {
		flipRows(out, ref.Cols(), ref.Rows())
	}

	g := ref.Like(src.Name)
	g.Data = out
	g.Units = src.Units
	g.Description = src.Description
	if !src.Time.IsZero() {
		g.Time = src.Time
	}

	zap.L().Debug("raster: reprojected to match",
		zap.String("layer", src.Name),
		zap.String("reference", ref.Name),
		zap.String("resampling", string(method)),
		zap.Int("rows", g.Rows()),
		zap.Int("cols", g.Cols()),
	)
	return g, nil
}

// Resample changes the resolution of src by factor, keeping its CRS and
// extent. A factor of 2 doubles the rows and columns.
func (w *GDALWarper) Resample(ctx context.Context, src *grid.Grid, factor float64, method Resampling) (*grid.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if factor <= 0 {
		return nil, eris.Errorf("raster: resample factor must be positive, got %g", factor)
	}
	cols := int(math.Round(float64(src.Cols()) * factor))
	rows := int(math.Round(float64(src.Rows()) * factor))
	if cols < 1 || rows < 1 {
		return nil, eris.Errorf("raster: resampling %s by %g leaves no pixels", src.Name, factor)
	}

	b := src.Bounds()
	out, err := w.warp(src, src.CRS, b, cols, rows, method)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: resample %s", src.Name)
	}

	dx := (b.MaxX - b.MinX) / float64(cols)
	dy := (b.MaxY - b.MinY) / float64(rows)
	x, y := grid.CoordsFromGeoTransform([6]float64{b.MinX, dx, 0, b.MaxY, 0, -dy}, cols, rows)
	g := src.Like(src.Name)
	g.X, g.Y, g.Data = x, y, out
	return g, nil
}

func (w *GDALWarper) warp(src *grid.Grid, crs string, b grid.Bounds, cols, rows int, method Resampling) ([]float64, error) {
	mem, err := toDataset(src)
	if err != nil {
		return nil, err
	}
	defer mem.Close() //nolint:errcheck

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	switches := []string{
		"-of", "MEM",
		"-t_srs", crs,
		"-te", f(b.MinX), f(b.MinY), f(b.MaxX), f(b.MaxY),
		"-ts", strconv.Itoa(cols), strconv.Itoa(rows),
		"-r", string(method),
		"-ot", "Float64",
		"-srcnodata", "nan",
		"-dstnodata", "nan",
	}
	dst, err := mem.Warp("", switches)
	if err != nil {
		return nil, eris.Wrap(err, "raster: gdalwarp")
	}
	defer dst.Close() //nolint:errcheck

	buf := make([]float64, cols*rows)
	if err := dst.Bands()[0].Read(0, 0, buf, cols, rows); err != nil {
		return nil, eris.Wrap(err, "raster: read warped band")
	}
	return buf, nil
}

// toDataset copies a grid into a single-band in-memory GDAL dataset.
func toDataset(g *grid.Grid) (*godal.Dataset, error) {
	register()
	if g.Cols() == 0 || g.Rows() == 0 {
		return nil, eris.Errorf("raster: grid %s is empty", g.Name)
	}
	ds, err := godal.Create(godal.Memory, "", 1, godal.Float64, g.Cols(), g.Rows())
	if err != nil {
		return nil, eris.Wrap(err, "raster: create memory dataset")
	}
	if err := describe(ds, g); err != nil {
		_ = ds.Close()
		return nil, err
	}
	if err := ds.Bands()[0].Write(0, 0, g.Data, g.Cols(), g.Rows()); err != nil {
		_ = ds.Close()
		return nil, eris.Wrap(err, "raster: write memory dataset")
	}
	return ds, nil
}

// describe sets the geotransform, spatial reference and NaN no-data of ds.
func describe(ds *godal.Dataset, g *grid.Grid) error {
	if err := ds.SetGeoTransform(g.GeoTransform()); err != nil {
		return eris.Wrap(err, "raster: set geotransform")
	}
	crs := g.CRS
	if crs == "" {
		crs = grid.DefaultCRS
	}
	sr, err := godal.NewSpatialRef(crs)
	if err != nil {
		return eris.Wrapf(err, "raster: parse CRS %q", crs)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return eris.Wrap(err, "raster: set spatial reference")
	}
	if err := ds.Bands()[0].SetNoData(math.NaN()); err != nil {
		return eris.Wrap(err, "raster: set no-data")
	}
	return nil
}

func flipRows(data []float64, cols, rows int) {
	tmp := make([]float64, cols)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := data[top*cols : (top+1)*cols]
		b := data[bottom*cols : (bottom+1)*cols]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
