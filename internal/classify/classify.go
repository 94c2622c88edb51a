// Package classify evaluates aligned grids against threshold intervals.
//
// Three modes are provided:
//   - Binary: one layer, one closed interval, output {0, 1}.
//   - Combine: N layers, one closed interval each, digit-encoded so that the
//     accumulator's i-th decimal digit records whether layer i was in range.
//   - Rank: one layer against per-level interval sets, half-open (lower, upper],
//     first matching level wins.
//
// No-data (NaN) always wins: a pixel that is no-data in any contributing
// layer is NaN in the output and never receives a class.
package classify

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/threshold"
)

// Unclassified is written by Rank for valid pixels that match no level.
// Levels are numbered from 1, so it never collides with a real level.
const Unclassified = 0

// Output grid names.
const (
	NameBinary = "Binary Risk Estimation"
	NameDigits = "Per-Layer Classification"
)

// ErrLayerCount is returned when the number of layers and thresholds differ.
var ErrLayerCount = errors.New("classify: number of thresholds must equal number of data layers")

// maxCombineLayers keeps the digit accumulator exactly representable.
const maxCombineLayers = 15

// Binary marks pixels inside the closed interval with 1, others with 0.
func Binary(layer *grid.Grid, iv threshold.Interval) (*grid.Grid, error) {
	if layer == nil {
		return nil, eris.Wrap(grid.ErrMisaligned, "classify: nil layer")
	}
	if err := iv.Validate(); err != nil {
		return nil, eris.Wrapf(err, "classify: %s", layer.Name)
	}
	out := layer.Like(layer.Name)
	out.Description = "Binary Classification"
	for i, v := range layer.Data {
		switch {
		case grid.IsNoData(v):
			out.Data[i] = math.NaN()
		case iv.Closed(v):
			out.Data[i] = 1
		}
	}
	return out, nil
}

// Combine classifies N layers jointly. Layer i contributes 10^i wherever its
// value lies inside intervals[i]. A no-data pixel in any layer is NaN and
// receives no further digits. If perLayer is false the accumulator is reduced
// to 1 where every layer was in range (accumulator == Repunit(N)) and 0
// elsewhere; if true the raw accumulator is returned.
func Combine(layers []*grid.Grid, intervals []threshold.Interval, perLayer bool) (*grid.Grid, error) {
	if len(layers) != len(intervals) {
		return nil, eris.Wrapf(ErrLayerCount, "%d layers, %d intervals", len(layers), len(intervals))
	}
	if len(layers) == 0 {
		return nil, eris.Wrap(ErrLayerCount, "no layers")
	}
	if len(layers) > maxCombineLayers {
		return nil, eris.Errorf("classify: at most %d layers can be digit-encoded, got %d", maxCombineLayers, len(layers))
	}
	if err := grid.CheckAligned(layers...); err != nil {
		return nil, eris.Wrap(err, "classify: combine")
	}
	for i, iv := range intervals {
		if err := iv.Validate(); err != nil {
			return nil, eris.Wrapf(err, "classify: layer %s", layers[i].Name)
		}
	}

	acc := layers[0].Like(NameDigits)
	acc.Description = "Digit-encoded classification"
	weight := 1.0
	for i, layer := range layers {
		iv := intervals[i]
		for p, v := range layer.Data {
			if grid.IsNoData(v) {
				acc.Data[p] = math.NaN()
				continue
			}
			if grid.IsNoData(acc.Data[p]) {
				continue
			}
			if iv.Closed(v) {
				acc.Data[p] += weight
			}
		}
		weight *= 10
	}

	if perLayer {
		return acc, nil
	}

	target := Repunit(len(layers))
	out := acc.Like(NameBinary)
	out.Description = "Binary Classification"
	for p, v := range acc.Data {
		switch {
		case grid.IsNoData(v):
			out.Data[p] = math.NaN()
		case v == target:
			out.Data[p] = 1
		}
	}
	return out, nil
}

// Repunit returns the number made of n decimal ones, e.g. 111 for n = 3.
func Repunit(n int) float64 {
	var r float64
	for i := 0; i < n; i++ {
		r = r*10 + 1
	}
	return r
}

// Digits decodes a Combine accumulator value into per-layer membership.
// It returns nil for no-data.
func Digits(acc float64, n int) []bool {
	if grid.IsNoData(acc) {
		return nil
	}
	out := make([]bool, n)
	v := int64(acc)
	for i := 0; i < n; i++ {
		out[i] = v%10 == 1
		v /= 10
	}
	return out
}

// Rank assigns each pixel the first level L (1-based) whose interval set
// contains it under the half-open predicate lower < v <= upper. Valid pixels
// matching no level get Unclassified.
func Rank(layer *grid.Grid, spec threshold.Spec) (*grid.Grid, error) {
	if layer == nil {
		return nil, eris.Wrap(grid.ErrMisaligned, "classify: nil layer")
	}
	if err := spec.Validate(); err != nil {
		return nil, eris.Wrapf(err, "classify: %s", layer.Name)
	}
	out := layer.Like(layer.Name)
	out.Description = "Risk level"
	for p, v := range layer.Data {
		if grid.IsNoData(v) {
			out.Data[p] = math.NaN()
			continue
		}
		out.Data[p] = float64(rankValue(v, spec))
	}
	return out, nil
}

func rankValue(v float64, spec threshold.Spec) int {
	for lvl, set := range spec {
		for _, iv := range set {
			if iv.HalfOpen(v) {
				return lvl + 1
			}
		}
	}
	return Unclassified
}

// RankAll ranks every layer against its spec concurrently. Results keep the
// input order.
func RankAll(ctx context.Context, layers []*grid.Grid, specs []threshold.Spec) ([]*grid.Grid, error) {
	if len(layers) != len(specs) {
		return nil, eris.Wrapf(ErrLayerCount, "%d layers, %d specs", len(layers), len(specs))
	}
	out := make([]*grid.Grid, len(layers))
	g, ctx := errgroup.WithContext(ctx)
	for i := range layers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ranked, err := Rank(layers[i], specs[i])
			if err != nil {
				return err
			}
			out[i] = ranked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
