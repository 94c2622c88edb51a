package threshold

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

func TestIntervalPredicates(t *testing.T) {
	iv := Interval{Lower: 1, Upper: 2}

	tests := []struct {
		name     string
		v        float64
		closed   bool
		halfOpen bool
	}{
		{"below", 0.5, false, false},
		{"at lower", 1, true, false},
		{"inside", 1.5, true, true},
		{"at upper", 2, true, true},
		{"above", 2.5, false, false},
		{"nan", math.NaN(), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.closed, iv.Closed(tt.v))
			assert.Equal(t, tt.halfOpen, iv.HalfOpen(tt.v))
		})
	}
}

func TestIntervalValidate(t *testing.T) {
	assert.NoError(t, Interval{Lower: 1, Upper: 1}.Validate())
	assert.True(t, errors.Is(Interval{Lower: 2, Upper: 1}.Validate(), ErrInvalidInterval))
	assert.True(t, errors.Is(Interval{Lower: math.NaN(), Upper: 1}.Validate(), ErrInvalidInterval))
}

func TestIntervalString(t *testing.T) {
	assert.Equal(t, "[-inf, 0.1]", Interval{Lower: -Inf, Upper: 0.1}.String())
	assert.Equal(t, "[30, +inf]", Interval{Lower: 30, Upper: Inf}.String())
}

func TestDefaults(t *testing.T) {
	iv, err := DefaultInterval("lst")
	require.NoError(t, err)
	assert.Equal(t, Interval{Lower: 20, Upper: 35}, iv)

	spec, err := DefaultSpec("LST")
	require.NoError(t, err)
	assert.Equal(t, 5, spec.Levels())
	assert.Equal(t, IntervalSet{{Lower: -Inf, Upper: 18}, {Lower: 30, Upper: Inf}}, spec[4])
	require.NoError(t, spec.Validate())

	spec[0][0].Lower = -1
	again, err := DefaultSpec("LST")
	require.NoError(t, err)
	assert.Equal(t, 25.0, again[0][0].Lower, "defaults must be copied")

	smos, err := DefaultSpec("SMOS")
	require.NoError(t, err)
	assert.Equal(t, 5, smos.Levels())

	_, err = DefaultSpec("unknown")
	assert.Error(t, err)
	_, err = DefaultInterval("unknown")
	assert.Error(t, err)
}

func uniformGrid(t *testing.T, n int) *grid.Grid {
	t.Helper()
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	g := grid.New("U", grid.DefaultCRS, x, []float64{0})
	for i := range g.Data {
		g.Data[i] = float64(i)
	}
	return g
}

func TestEstimateQuantiles_Uniform(t *testing.T) {
	g := uniformGrid(t, 100)

	spec, err := EstimateQuantiles(g, []float64{0.25, 0.5, 0.75}, EstimateOptions{})
	require.NoError(t, err)
	require.Len(t, spec, 4)

	// Highest band first, each level a single interval.
	for _, set := range spec {
		require.Len(t, set, 1)
	}
	assert.Equal(t, Inf, spec[0][0].Upper)
	assert.Equal(t, -Inf, spec[3][0].Lower)

	// Linear interpolation between closest ranks of 0..99.
	assert.InDelta(t, 74.25, spec[0][0].Lower, 1e-9)
	assert.InDelta(t, 49.5, spec[1][0].Lower, 1e-9)
	assert.InDelta(t, 24.75, spec[2][0].Lower, 1e-9)

	// Contiguous: no gaps, no overlaps.
	for i := 0; i < len(spec)-1; i++ {
		assert.Equal(t, spec[i][0].Lower, spec[i+1][0].Upper)
		assert.Less(t, spec[i+1][0].Lower, spec[i+1][0].Upper)
	}
}

func TestEstimateQuantiles_IgnoresNoDataAndValues(t *testing.T) {
	g := uniformGrid(t, 10)
	g.Data[0] = math.NaN()
	for i := 5; i < 10; i++ {
		g.Data[i] = -999
	}

	spec, err := EstimateQuantiles(g, []float64{0.5}, EstimateOptions{Ignore: []float64{-999}, NegInf: ptr(-1.0), PosInf: ptr(100.0)})
	require.NoError(t, err)
	require.Len(t, spec, 2)
	assert.Equal(t, 100.0, spec[0][0].Upper)
	assert.Equal(t, -1.0, spec[1][0].Lower)
	// remaining values 1..4
	assert.GreaterOrEqual(t, spec[0][0].Lower, 1.0)
	assert.LessOrEqual(t, spec[0][0].Lower, 4.0)
}

func ptr(v float64) *float64 { return &v }

func TestEstimateQuantiles_ZeroBound(t *testing.T) {
	g := uniformGrid(t, 10)

	spec, err := EstimateQuantiles(g, []float64{0.5}, EstimateOptions{NegInf: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, spec[1][0].Lower, "an explicit zero bound is kept")
	assert.Equal(t, Inf, spec[0][0].Upper)
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		q      float64
		sorted []float64
		want   float64
	}{
		{"single", 0.3, []float64{7}, 7},
		{"min", 0, []float64{1, 2, 3}, 1},
		{"max", 1, []float64{1, 2, 3}, 3},
		{"median even", 0.5, []float64{1, 2, 3, 4}, 2.5},
		{"tenth", 0.1, []float64{0, 10, 20, 30, 40}, 4},
		{"ninety-fifth", 0.95, []float64{0, 10, 20, 30, 40}, 38},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Quantile(tt.q, tt.sorted), 1e-12)
		})
	}
}

func TestEstimateQuantiles_Errors(t *testing.T) {
	g := uniformGrid(t, 10)

	_, err := EstimateQuantiles(g, nil, EstimateOptions{})
	assert.Error(t, err)
	_, err = EstimateQuantiles(g, []float64{1.5}, EstimateOptions{})
	assert.Error(t, err)
	_, err = EstimateQuantiles(g, []float64{0.5, 0.2}, EstimateOptions{})
	assert.Error(t, err)

	empty := grid.New("E", grid.DefaultCRS, []float64{0}, []float64{0})
	empty.Data[0] = math.NaN()
	_, err = EstimateQuantiles(empty, []float64{0.5}, EstimateOptions{})
	assert.Error(t, err)
}

const thresholdYAML = `
layers:
  lst:
    interval: {lower: 21, upper: 34}
  ndvi:
    levels:
      - []
      - [{lower: 0.5, upper: 1}]
      - [{lower: -.inf, upper: 0.5}]
`

func TestDecodeAndResolve(t *testing.T) {
	set, err := Decode(strings.NewReader(thresholdYAML))
	require.NoError(t, err)

	iv, err := set.Interval("LST")
	require.NoError(t, err)
	assert.Equal(t, Interval{Lower: 21, Upper: 34}, iv)

	// LST levels fall back to the defaults.
	spec, err := set.Spec("LST")
	require.NoError(t, err)
	assert.Equal(t, 5, spec.Levels())

	spec, err = set.Spec("NDVI")
	require.NoError(t, err)
	require.Len(t, spec, 3)
	assert.Empty(t, spec[0])
	assert.Equal(t, -Inf, spec[2][0].Lower, ".inf must be clamped")

	// NDVI interval falls back to the default.
	iv, err = set.Interval("ndvi")
	require.NoError(t, err)
	assert.Equal(t, Interval{Lower: 0.3, Upper: 1}, iv)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(strings.NewReader("layers:\n  lst:\n    interval: {lower: 5, upper: 1}\n"))
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	_, err = Decode(strings.NewReader("layers: [oops"))
	assert.Error(t, err)
}

func TestOverrideAndEncodeRoundTrip(t *testing.T) {
	set := Defaults()
	set.Override("pop", Spec{{{Lower: 10, Upper: Inf}}, {{Lower: -Inf, Upper: 10}}})

	var buf bytes.Buffer
	require.NoError(t, set.Encode(&buf))

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	spec, err := loaded.Spec("POP")
	require.NoError(t, err)
	assert.Equal(t, Spec{{{Lower: 10, Upper: Inf}}, {{Lower: -Inf, Upper: 10}}}, spec)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
