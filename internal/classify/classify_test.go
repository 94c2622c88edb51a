package classify

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/threshold"
)

var nan = math.NaN()

func row(t *testing.T, name string, vals ...float64) *grid.Grid {
	t.Helper()
	x := make([]float64, len(vals))
	for i := range x {
		x[i] = float64(i)
	}
	g, err := grid.FromRows(name, grid.DefaultCRS, x, []float64{0}, [][]float64{vals})
	require.NoError(t, err)
	return g
}

func assertValues(t *testing.T, want []float64, g *grid.Grid) {
	t.Helper()
	require.Len(t, g.Data, len(want))
	for i, w := range want {
		if math.IsNaN(w) {
			assert.Truef(t, math.IsNaN(g.Data[i]), "pixel %d: want NaN, got %v", i, g.Data[i])
			continue
		}
		assert.Equalf(t, w, g.Data[i], "pixel %d", i)
	}
}

func TestBinary(t *testing.T) {
	layer := row(t, "LST", 19.9, 20, 27, 35, 35.1, nan)
	out, err := Binary(layer, threshold.Interval{Lower: 20, Upper: 35})
	require.NoError(t, err)
	assertValues(t, []float64{0, 1, 1, 1, 0, nan}, out)
	assert.True(t, out.Aligned(layer))
}

func TestBinary_InvalidInterval(t *testing.T) {
	_, err := Binary(row(t, "L", 1), threshold.Interval{Lower: 2, Upper: 1})
	assert.True(t, errors.Is(err, threshold.ErrInvalidInterval))
}

func TestCombine_ThreeLayers(t *testing.T) {
	iv := threshold.Interval{Lower: 0, Upper: 1}
	// pixel 0: all in range; pixel 1: layers 0 and 2; pixel 2: none;
	// pixel 3: layer 1 no-data; pixel 4: only layer 1.
	l0 := row(t, "A", 0.5, 0.5, 5, 0.5, 5)
	l1 := row(t, "B", 0.5, 5, 5, nan, 0.5)
	l2 := row(t, "C", 0.5, 0.5, 5, 0.5, 5)
	layers := []*grid.Grid{l0, l1, l2}
	ivs := []threshold.Interval{iv, iv, iv}

	acc, err := Combine(layers, ivs, true)
	require.NoError(t, err)
	assertValues(t, []float64{111, 101, 0, nan, 10}, acc)

	bin, err := Combine(layers, ivs, false)
	require.NoError(t, err)
	assertValues(t, []float64{1, 0, 0, nan, 0}, bin)
	assert.Equal(t, NameBinary, bin.Name)
}

func TestCombine_NoDataIsSticky(t *testing.T) {
	iv := threshold.Interval{Lower: 0, Upper: 1}
	// Layer 0 is no-data; later in-range layers must not add digits.
	l0 := row(t, "A", nan)
	l1 := row(t, "B", 0.5)
	acc, err := Combine([]*grid.Grid{l0, l1}, []threshold.Interval{iv, iv}, true)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(acc.Data[0]))
}

func TestCombine_Preconditions(t *testing.T) {
	iv := threshold.Interval{Lower: 0, Upper: 1}
	a := row(t, "A", 1, 2)

	_, err := Combine([]*grid.Grid{a}, []threshold.Interval{iv, iv}, false)
	assert.True(t, errors.Is(err, ErrLayerCount))

	_, err = Combine(nil, nil, false)
	assert.True(t, errors.Is(err, ErrLayerCount))

	b := row(t, "B", 1, 2, 3)
	_, err = Combine([]*grid.Grid{a, b}, []threshold.Interval{iv, iv}, false)
	assert.True(t, errors.Is(err, grid.ErrMisaligned))
}

func TestRepunitAndDigits(t *testing.T) {
	assert.Equal(t, 1.0, Repunit(1))
	assert.Equal(t, 111.0, Repunit(3))
	assert.Equal(t, 11111.0, Repunit(5))

	assert.Equal(t, []bool{true, false, true}, Digits(101, 3))
	assert.Equal(t, []bool{false, true, false, false}, Digits(10, 4))
	assert.Nil(t, Digits(nan, 3))
}

func TestRank_HalfOpenFirstMatch(t *testing.T) {
	spec := threshold.Spec{
		{{Lower: 25, Upper: 27}},
		{{Lower: 22, Upper: 25}, {Lower: 27, Upper: 29}},
		{{Lower: 20, Upper: 22}},
	}
	// 25 sits on the upper edge of level 2 and the lower edge of level 1:
	// exclusive lower means level 1 does not match, level 2 does.
	layer := row(t, "LST", 26, 25, 27, 28, 22, 20, 10, nan)
	out, err := Rank(layer, spec)
	require.NoError(t, err)
	assertValues(t, []float64{1, 2, 1, 2, 3, Unclassified, Unclassified, nan}, out)
}

func TestRank_EmptyLevelsSkipped(t *testing.T) {
	spec := threshold.Spec{{}, {{Lower: 0.6, Upper: 1}}, {{Lower: -threshold.Inf, Upper: 0.6}}}
	out, err := Rank(row(t, "NDVI", 0.7, 0.2), spec)
	require.NoError(t, err)
	assertValues(t, []float64{2, 3}, out)
}

func TestRank_Deterministic(t *testing.T) {
	spec, err := threshold.DefaultSpec("LST")
	require.NoError(t, err)
	layer := row(t, "LST", 10, 19, 21, 23, 26, 28, 29.5, 31, nan)

	a, err := Rank(layer, spec)
	require.NoError(t, err)
	b, err := Rank(layer, spec)
	require.NoError(t, err)
	for i := range a.Data {
		assert.Equal(t, math.Float64bits(a.Data[i]), math.Float64bits(b.Data[i]))
	}
}

func TestRankAll(t *testing.T) {
	lst, err := threshold.DefaultSpec("LST")
	require.NoError(t, err)
	ndvi, err := threshold.DefaultSpec("NDVI")
	require.NoError(t, err)

	out, err := RankAll(context.Background(),
		[]*grid.Grid{row(t, "LST", 26, nan), row(t, "NDVI", 0.7, 0.05)},
		[]threshold.Spec{lst, ndvi})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "LST", out[0].Name)
	assertValues(t, []float64{1, nan}, out[0])
	assertValues(t, []float64{2, 5}, out[1])

	_, err = RankAll(context.Background(), []*grid.Grid{row(t, "A", 1)}, nil)
	assert.True(t, errors.Is(err, ErrLayerCount))
}

func TestRankAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	spec, err := threshold.DefaultSpec("LST")
	require.NoError(t, err)
	_, err = RankAll(ctx, []*grid.Grid{row(t, "LST", 1)}, []threshold.Spec{spec})
	assert.ErrorIs(t, err, context.Canceled)
}
