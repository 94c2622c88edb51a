package threshold

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// EstimateOptions tunes EstimateQuantiles.
type EstimateOptions struct {
	// Ignore lists values excluded from the quantile computation.
	Ignore []float64
	// NegInf and PosInf close the outermost intervals. Nil means -Inf/+Inf.
	NegInf *float64
	PosInf *float64
}

// EstimateQuantiles derives risk levels from the value distribution of g.
// The quantiles q1 < ... < qN produce N+1 contiguous single-interval levels
// (-inf, q1], (q1, q2], ..., (qN, +inf), returned highest band first.
func EstimateQuantiles(g *grid.Grid, quantiles []float64, opts EstimateOptions) (Spec, error) {
	if len(quantiles) == 0 {
		return nil, eris.New("threshold: no quantiles given")
	}
	for i, q := range quantiles {
		if q < 0 || q > 1 || math.IsNaN(q) {
			return nil, eris.Errorf("threshold: quantile %g outside [0, 1]", q)
		}
		if i > 0 && q <= quantiles[i-1] {
			return nil, eris.Errorf("threshold: quantiles must be strictly ascending, got %v", quantiles)
		}
	}

	negInf, posInf := -Inf, Inf
	if opts.NegInf != nil {
		negInf = *opts.NegInf
	}
	if opts.PosInf != nil {
		posInf = *opts.PosInf
	}

	ignore := make(map[float64]struct{}, len(opts.Ignore))
	for _, v := range opts.Ignore {
		ignore[v] = struct{}{}
	}
	vals := make([]float64, 0, g.Len())
	for _, v := range g.Data {
		if grid.IsNoData(v) {
			continue
		}
		if _, skip := ignore[v]; skip {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return nil, eris.Errorf("threshold: %q has no valid pixels for quantile estimation", g.Name)
	}
	sort.Float64s(vals)

	qv := make([]float64, len(quantiles))
	for i, q := range quantiles {
		qv[i] = Quantile(q, vals)
	}

	spec := make(Spec, 0, len(qv)+1)
	spec = append(spec, IntervalSet{{Lower: qv[len(qv)-1], Upper: posInf}})
	for i := len(qv) - 1; i > 0; i-- {
		spec = append(spec, IntervalSet{{Lower: qv[i-1], Upper: qv[i]}})
	}
	spec = append(spec, IntervalSet{{Lower: negInf, Upper: qv[0]}})
	return spec, nil
}

// Quantile returns the q-quantile of sorted by linear interpolation between
// the closest ranks: h = (n-1)q, x[floor(h)] + (h-floor(h))(x[floor(h)+1]-x[floor(h)]).
// sorted must be ascending and non-empty.
func Quantile(q float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
