package grid

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Bounds is an axis-aligned envelope in the grid's CRS.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Expand grows the envelope by d on every side; a negative d shrinks it.
func (b Bounds) Expand(d float64) Bounds {
	return Bounds{MinX: b.MinX - d, MinY: b.MinY - d, MaxX: b.MaxX + d, MaxY: b.MaxY + d}
}

// Empty reports whether the envelope has no area.
func (b Bounds) Empty() bool {
	return b.MinX >= b.MaxX || b.MinY >= b.MaxY
}

// Resolution returns the pixel size along x and y. Y resolution is negative
// for north-up rasters, matching the GDAL geotransform convention.
func (g *Grid) Resolution() (dx, dy float64) {
	if len(g.X) > 1 {
		dx = (g.X[len(g.X)-1] - g.X[0]) / float64(len(g.X)-1)
	}
	if len(g.Y) > 1 {
		dy = (g.Y[len(g.Y)-1] - g.Y[0]) / float64(len(g.Y)-1)
	}
	return dx, dy
}

// Bounds returns the outer pixel-edge envelope of the grid.
func (g *Grid) Bounds() Bounds {
	if len(g.X) == 0 || len(g.Y) == 0 {
		return Bounds{}
	}
	dx, dy := g.Resolution()
	hx, hy := math.Abs(dx)/2, math.Abs(dy)/2
	minX, maxX := minMax(g.X)
	minY, maxY := minMax(g.Y)
	return Bounds{MinX: minX - hx, MinY: minY - hy, MaxX: maxX + hx, MaxY: maxY + hy}
}

// GeoTransform returns the GDAL affine transform of the grid: origin at the
// outer corner of pixel (0, 0), then pixel width and height.
func (g *Grid) GeoTransform() [6]float64 {
	dx, dy := g.Resolution()
	var x0, y0 float64
	if len(g.X) > 0 {
		x0 = g.X[0] - dx/2
	}
	if len(g.Y) > 0 {
		y0 = g.Y[0] - dy/2
	}
	return [6]float64{x0, dx, 0, y0, 0, dy}
}

// CoordsFromGeoTransform builds pixel-centre coordinate vectors from a
// north-up GDAL geotransform.
func CoordsFromGeoTransform(gt [6]float64, cols, rows int) (x, y []float64) {
	x = make([]float64, cols)
	for c := range x {
		x[c] = gt[0] + (float64(c)+0.5)*gt[1]
	}
	y = make([]float64, rows)
	for r := range y {
		y[r] = gt[3] + (float64(r)+0.5)*gt[5]
	}
	return x, y
}

// Crop returns the sub-grid whose pixel footprints intersect b.
func (g *Grid) Crop(b Bounds) (*Grid, error) {
	dx, dy := g.Resolution()
	cols := window(g.X, b.MinX, b.MaxX, math.Abs(dx)/2)
	rows := window(g.Y, b.MinY, b.MaxY, math.Abs(dy)/2)
	if len(cols) == 0 || len(rows) == 0 {
		return nil, eris.Wrapf(ErrNoDataInBounds, "crop %q to (%g, %g, %g, %g)", g.Name, b.MinX, b.MinY, b.MaxX, b.MaxY)
	}

	c0, c1 := cols[0], cols[len(cols)-1]
	r0, r1 := rows[0], rows[len(rows)-1]

	out := g.Like(g.Name)
	out.Units, out.Description = g.Units, g.Description
	out.NoData = g.NoData
	out.X = append([]float64(nil), g.X[c0:c1+1]...)
	out.Y = append([]float64(nil), g.Y[r0:r1+1]...)
	out.Data = make([]float64, len(out.X)*len(out.Y))
	for r := r0; r <= r1; r++ {
		copy(out.Data[(r-r0)*len(out.X):], g.Data[r*len(g.X)+c0:r*len(g.X)+c1+1])
	}
	return out, nil
}

// window returns the contiguous index range of coords whose half-width
// footprint intersects [lo, hi]. Coordinates may be ascending or descending.
func window(coords []float64, lo, hi, half float64) []int {
	var idx []int
	for i, c := range coords {
		if c+half > lo && c-half < hi {
			idx = append(idx, i)
		}
	}
	return idx
}

// Lookup returns the value of the pixel nearest to (x, y), provided the
// point lies within half a pixel of its centre.
func (g *Grid) Lookup(x, y float64) (float64, error) {
	dx, dy := g.Resolution()
	c, okX := nearest(g.X, x, math.Abs(dx)/2)
	r, okY := nearest(g.Y, y, math.Abs(dy)/2)
	if !okX || !okY {
		return math.NaN(), eris.Wrapf(ErrOutOfBounds, "(%.2f, %.2f)", x, y)
	}
	return g.At(r, c), nil
}

func nearest(coords []float64, v, tol float64) (int, bool) {
	best, bestDist := -1, math.Inf(1)
	for i, c := range coords {
		if d := math.Abs(c - v); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, false
	}
	if len(coords) > 1 && bestDist > tol {
		return 0, false
	}
	return best, true
}

func minMax(v []float64) (lo, hi float64) {
	lo, hi = v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

// Metadata is the enumerated description of a grid used for logging and the
// inspect command.
type Metadata struct {
	Name       string  `json:"name"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	ResX       float64 `json:"res_x"`
	ResY       float64 `json:"res_y"`
	Bounds     Bounds  `json:"bounds"`
	CRS        string  `json:"crs"`
	NoData     float64 `json:"-"`
	Units      string  `json:"units,omitempty"`
	ValidCount int     `json:"valid_count"`
}

// Metadata describes g.
func (g *Grid) Metadata() Metadata {
	dx, dy := g.Resolution()
	var valid int
	for _, v := range g.Data {
		if !IsNoData(v) {
			valid++
		}
	}
	return Metadata{
		Name:       g.Name,
		Rows:       g.Rows(),
		Cols:       g.Cols(),
		ResX:       dx,
		ResY:       dy,
		Bounds:     g.Bounds(),
		CRS:        g.CRS,
		NoData:     g.NoData,
		Units:      g.Units,
		ValidCount: valid,
	}
}

// String renders the metadata one field per line.
func (m Metadata) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", m.Name)
	fmt.Fprintf(&b, "shape: (%d, %d)\n", m.Rows, m.Cols)
	fmt.Fprintf(&b, "resolution: (%g, %g)\n", m.ResX, m.ResY)
	fmt.Fprintf(&b, "bounds: (%g, %g, %g, %g)\n", m.Bounds.MinX, m.Bounds.MinY, m.Bounds.MaxX, m.Bounds.MaxY)
	fmt.Fprintf(&b, "CRS: %s\n", m.CRS)
	fmt.Fprintf(&b, "nodata: %g\n", m.NoData)
	if m.Units != "" {
		fmt.Fprintf(&b, "units: %s\n", m.Units)
	}
	fmt.Fprintf(&b, "valid: %d/%d\n", m.ValidCount, m.Rows*m.Cols)
	return b.String()
}
