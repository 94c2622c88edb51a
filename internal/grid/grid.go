// Package grid holds the in-memory raster model shared by every stage of the
// risk pipeline: a row-major float64 array tagged with its coordinate vectors,
// coordinate reference system and no-data convention.
package grid

import (
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultCRS is assumed when a source carries no coordinate reference system.
const DefaultCRS = "EPSG:4326"

var (
	// ErrMisaligned is returned when grids that must share a geometry do not.
	ErrMisaligned = errors.New("grid: misaligned grids")
	// ErrOutOfBounds is returned by Lookup for coordinates outside the grid.
	ErrOutOfBounds = errors.New("grid: out of bounds")
	// ErrNoDataInBounds is returned by Crop when no pixel intersects the box.
	ErrNoDataInBounds = errors.New("grid: no data in bounds")
)

// Grid is a 2-D georeferenced raster. X holds one pixel-centre coordinate per
// column, Y one per row; Data is row-major with len(Y)*len(X) values.
// After normalisation no-data pixels are NaN.
type Grid struct {
	Name        string
	CRS         string
	X           []float64
	Y           []float64
	Data        []float64
	NoData      float64
	Units       string
	Description string
	Time        time.Time
}

// New allocates a zero-filled grid over the given coordinate vectors.
func New(name, crs string, x, y []float64) *Grid {
	return &Grid{
		Name:   name,
		CRS:    crs,
		X:      append([]float64(nil), x...),
		Y:      append([]float64(nil), y...),
		Data:   make([]float64, len(x)*len(y)),
		NoData: math.NaN(),
	}
}

// FromRows builds a grid from a slice of rows. It is mostly useful in tests
// and for small synthetic layers.
func FromRows(name, crs string, x, y []float64, rows [][]float64) (*Grid, error) {
	if len(rows) != len(y) {
		return nil, eris.Wrapf(ErrMisaligned, "grid: %d rows for %d y coordinates", len(rows), len(y))
	}
	g := New(name, crs, x, y)
	for r, row := range rows {
		if len(row) != len(x) {
			return nil, eris.Wrapf(ErrMisaligned, "grid: row %d has %d values for %d x coordinates", r, len(row), len(x))
		}
		copy(g.Data[r*len(x):], row)
	}
	return g, nil
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return len(g.Y) }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return len(g.X) }

// Len returns the number of pixels.
func (g *Grid) Len() int { return len(g.Data) }

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*len(g.X)+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*len(g.X)+col] = v
}

// IsNoData reports whether v is a no-data value.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	out := *g
	out.X = append([]float64(nil), g.X...)
	out.Y = append([]float64(nil), g.Y...)
	out.Data = append([]float64(nil), g.Data...)
	return &out
}

// Like allocates a zero-filled grid with g's geometry and the given name.
func (g *Grid) Like(name string) *Grid {
	out := New(name, g.CRS, g.X, g.Y)
	out.Time = g.Time
	return out
}

// MaskNoData replaces every value equal to sentinel with NaN and records the
// normalised no-data convention.
func (g *Grid) MaskNoData(sentinel float64) int {
	var n int
	if math.IsNaN(sentinel) {
		g.NoData = math.NaN()
		return 0
	}
	for i, v := range g.Data {
		if v == sentinel {
			g.Data[i] = math.NaN()
			n++
		}
	}
	g.NoData = math.NaN()
	return n
}

// Apply replaces every valid pixel v with fn(v). No-data is left untouched.
func (g *Grid) Apply(fn func(float64) float64) {
	for i, v := range g.Data {
		if IsNoData(v) {
			continue
		}
		g.Data[i] = fn(v)
	}
}

// Aligned reports whether g and other share shape and coordinate vectors.
func (g *Grid) Aligned(other *Grid) bool {
	if len(g.X) != len(other.X) || len(g.Y) != len(other.Y) {
		return false
	}
	for i := range g.X {
		if g.X[i] != other.X[i] {
			return false
		}
	}
	for i := range g.Y {
		if g.Y[i] != other.Y[i] {
			return false
		}
	}
	return true
}

// CheckAligned returns ErrMisaligned if any grid differs in geometry from the
// first one, or if a grid is nil.
func CheckAligned(grids ...*Grid) error {
	if len(grids) == 0 {
		return nil
	}
	for i, g := range grids {
		if g == nil {
			return eris.Wrapf(ErrMisaligned, "grid %d is nil", i)
		}
		if len(g.Data) != len(g.X)*len(g.Y) {
			return eris.Wrapf(ErrMisaligned, "grid %q holds %d values for shape (%d, %d)", g.Name, len(g.Data), len(g.Y), len(g.X))
		}
	}
	ref := grids[0]
	for _, g := range grids[1:] {
		if !ref.Aligned(g) {
			return eris.Wrapf(ErrMisaligned, "%q (%d, %d) vs %q (%d, %d)",
				ref.Name, ref.Rows(), ref.Cols(), g.Name, g.Rows(), g.Cols())
		}
	}
	return nil
}
