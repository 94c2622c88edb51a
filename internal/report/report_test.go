package report

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

func TestWriteXLSX_RoundTrip(t *testing.T) {
	lst, err := grid.FromRows("LST", grid.DefaultCRS, []float64{0, 1}, []float64{1, 0},
		[][]float64{{20, 30}, {math.NaN(), 40}})
	require.NoError(t, err)
	lst.Units = "°C"

	risk, err := grid.FromRows("Risk Estimation", grid.DefaultCRS, []float64{0, 1}, []float64{1, 0},
		[][]float64{{1, 3}, {math.NaN(), 3}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "NDVI", "summary.xlsx")
	s := Summary{
		RunID:     "run-1",
		Reference: "NDVI",
		AOI:       "Nigeria",
		Created:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Layers:    []Layer{NewLayer(lst)},
		Risk:      []Risk{NewRisk(risk)},
	}
	require.NoError(t, WriteXLSX(path, s))

	run, err := ReadSheet(path, SheetRun)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "run-1"}, run[0])
	assert.Equal(t, []string{"created", "2024-03-01T12:00:00Z"}, run[3])

	layers, err := ReadSheet(path, SheetLayers)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, layerHeader, layers[0])
	assert.Equal(t, "LST", layers[1][0])
	assert.Equal(t, "°C", layers[1][1])
	assert.Equal(t, "3", layers[1][11])
	assert.Equal(t, "1", layers[1][12])

	h, err := Histogram(path, "Risk Estimation")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 1, 3: 2}, h)
}

func TestReadSheet_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.xlsx")
	require.NoError(t, WriteXLSX(path, Summary{}))
	_, err := ReadSheet(path, "Nope")
	assert.Error(t, err)

	_, err = ReadSheet(filepath.Join(t.TempDir(), "missing.xlsx"), SheetRun)
	assert.Error(t, err)
}
