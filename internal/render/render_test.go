package render

import (
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

func riskGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.FromRows("risk_estimation", grid.DefaultCRS,
		[]float64{0, 1, 2}, []float64{2, 1, 0},
		[][]float64{{1, 2, 3}, {math.NaN(), 4, 5}, {1, 1, 2}})
	require.NoError(t, err)
	return g
}

func TestHeatMap_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "risk.png")
	err := HeatMap(path, riskGrid(t), Options{
		Levels:  5,
		Outline: [][]geom.Coord{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}},
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestHeatMap_AllNoData(t *testing.T) {
	g := riskGrid(t)
	for i := range g.Data {
		g.Data[i] = math.NaN()
	}
	require.NoError(t, HeatMap(filepath.Join(t.TempDir(), "empty.png"), g, Options{}))
}

func TestPanels(t *testing.T) {
	a := riskGrid(t)
	b := a.Clone()
	b.Name = "POP"
	path := filepath.Join(t.TempDir(), "input_data.png")
	require.NoError(t, Panels(path, []*grid.Grid{a, b}, Options{}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, Panels(path, nil, Options{}))
}

func TestTitle(t *testing.T) {
	g := riskGrid(t)
	assert.Equal(t, "Risk Estimation", Title(g))
	g.Description = "Land Surface Temperature"
	g.Name = "LST"
	assert.Equal(t, "Land Surface Temperature (LST)", Title(g))
}

func TestXYZ_FlipsDescendingRows(t *testing.T) {
	a := xyz{riskGrid(t)}
	c, r := a.Dims()
	assert.Equal(t, 3, c)
	assert.Equal(t, 3, r)
	assert.Equal(t, 0.0, a.Y(0))
	assert.Equal(t, 2.0, a.Y(2))
	assert.Equal(t, 3.0, a.Z(2, 2))
	assert.Equal(t, 1.0, a.Z(0, 0))
}

func TestDiscretePalette(t *testing.T) {
	assert.Len(t, discretePalette(5).Colors(), 5)
	assert.Len(t, discretePalette(1).Colors(), 1)
}

func TestHeatMap_DiscreteUnclassifiedIsVisible(t *testing.T) {
	hm := heatMap(riskGrid(t), Options{Levels: 5})
	assert.Equal(t, 1.0, hm.Min)
	assert.Equal(t, 5.0, hm.Max)
	assert.Equal(t, UnclassifiedColor, hm.Underflow)
	assert.Equal(t, color.Transparent, hm.NaN)
	assert.NotEqual(t, hm.NaN, hm.Underflow)
}

func TestHeatMap_ContinuousRange(t *testing.T) {
	hm := heatMap(riskGrid(t), Options{Colors: 8})
	assert.Equal(t, 1.0, hm.Min)
	assert.Equal(t, 5.0, hm.Max)
}
