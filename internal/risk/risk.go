// Package risk combines per-layer risk levels into a composite score.
package risk

import (
	"errors"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/threshold"
)

// Output grid names.
const (
	NameComposite = "Risk Estimation"
)

// ErrLayerCount is returned when the number of layers and specs differ.
var ErrLayerCount = errors.New("risk: number of thresholds must equal number of data layers")

// Options tunes Aggregate.
type Options struct {
	// Average divides the accumulated score by the number of layers.
	Average bool
	// Discrete rounds the final score to the nearest integer.
	Discrete bool
	// FirstMatch stops after the first matching interval per layer instead of
	// summing every matching interval.
	FirstMatch bool
}

// Aggregate scores every pixel by adding level L for every closed interval
// lower <= v <= upper of level L that contains the pixel value, layer by
// layer in input order. A pixel that is no-data in any layer ends up NaN;
// the mask is applied after accumulation.
func Aggregate(layers []*grid.Grid, specs []threshold.Spec, opts Options) (*grid.Grid, error) {
	if len(layers) != len(specs) {
		return nil, eris.Wrapf(ErrLayerCount, "%d layers, %d specs", len(layers), len(specs))
	}
	if len(layers) == 0 {
		return nil, eris.Wrap(ErrLayerCount, "no layers")
	}
	if err := grid.CheckAligned(layers...); err != nil {
		return nil, eris.Wrap(err, "risk: aggregate")
	}
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, eris.Wrapf(err, "risk: layer %s", layers[i].Name)
		}
	}

	acc := layers[0].Like(NameComposite)
	acc.Description = "Risk Estimation"
	noData := make([]bool, acc.Len())

	for i, layer := range layers {
		spec := specs[i]
		for p, v := range layer.Data {
			if grid.IsNoData(v) {
				noData[p] = true
				continue
			}
			acc.Data[p] += score(v, spec, opts.FirstMatch)
		}
	}

	n := float64(len(layers))
	for p := range acc.Data {
		if noData[p] {
			acc.Data[p] = math.NaN()
			continue
		}
		if opts.Average {
			acc.Data[p] /= n
		}
		if opts.Discrete {
			acc.Data[p] = math.Round(acc.Data[p])
		}
	}
	return acc, nil
}

func score(v float64, spec threshold.Spec, firstMatch bool) float64 {
	var s float64
	for lvl, set := range spec {
		for _, iv := range set {
			if iv.Closed(v) {
				s += float64(lvl + 1)
				if firstMatch {
					return s
				}
			}
		}
	}
	return s
}

// PerLayer aggregates each layer on its own, yielding one risk grid per
// input layer with the layer's name.
func PerLayer(layers []*grid.Grid, specs []threshold.Spec, opts Options) ([]*grid.Grid, error) {
	if len(layers) != len(specs) {
		return nil, eris.Wrapf(ErrLayerCount, "%d layers, %d specs", len(layers), len(specs))
	}
	out := make([]*grid.Grid, len(layers))
	for i := range layers {
		g, err := Aggregate(layers[i:i+1], specs[i:i+1], opts)
		if err != nil {
			return nil, err
		}
		g.Name = layers[i].Name
		g.Description = "Risk per layer"
		out[i] = g
	}
	return out, nil
}

// Without returns layers and specs with the named layers removed, keeping the
// remaining order. Used for leave-one-out composites.
func Without(layers []*grid.Grid, specs []threshold.Spec, names ...string) ([]*grid.Grid, []threshold.Spec) {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	var (
		outL []*grid.Grid
		outS []threshold.Spec
	)
	for i, l := range layers {
		if _, ok := drop[l.Name]; ok {
			continue
		}
		outL = append(outL, l)
		if i < len(specs) {
			outS = append(outS, specs[i])
		}
	}
	return outL, outS
}
