package grid

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the valid pixels of a grid.
type Stats struct {
	Valid  int     `json:"valid"`
	NoData int     `json:"nodata"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Valid returns the non-NaN pixel values of g in row-major order.
func (g *Grid) Valid() []float64 {
	out := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !IsNoData(v) {
			out = append(out, v)
		}
	}
	return out
}

// Stats computes summary statistics over the valid pixels.
func (g *Grid) Stats() Stats {
	vals := g.Valid()
	s := Stats{Valid: len(vals), NoData: len(g.Data) - len(vals)}
	if len(vals) == 0 {
		s.Min, s.Max, s.Mean, s.StdDev = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	return s
}

// Histogram counts valid pixels per integer value after rounding. It is used
// for discrete risk grids.
func (g *Grid) Histogram() map[int]int {
	h := make(map[int]int)
	for _, v := range g.Data {
		if IsNoData(v) {
			continue
		}
		h[int(math.Round(v))]++
	}
	return h
}
