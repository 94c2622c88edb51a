package raster

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

func TestDateFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    time.Time
		wantErr bool
	}{
		{name: "SMAP_L3_SM_P_E_20230615_R19240_001.h5", want: time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)},
		{name: "SMAP_L3_SM_P_E_20230615_20230616_001.h5", wantErr: true},
		{name: "SMAP_L3_SM_P_E.h5", wantErr: true},
		{name: "x_20231315_y.h5", wantErr: true},
		{name: "x20230615_y.h5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DateFromFilename(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFillGaps(t *testing.T) {
	nan := math.NaN()
	v := []float64{nan, 1, nan, nan, 4, nan}
	require.NoError(t, fillGaps(v))
	assert.InDeltaSlice(t, []float64{0, 1, 2, 3, 4, 5}, v, 1e-12)

	assert.Error(t, fillGaps([]float64{nan, 3, nan}))
}

func TestFullEntries(t *testing.T) {
	// 3 rows x 2 cols with fill values scattered through the arrays.
	lon := []float64{
		-9999, 11,
		10, -9999,
		10, 11,
	}
	lat := []float64{
		-9999, 5,
		-9999, -9999,
		3, 3,
	}

	x, err := fullEntries(lon, 3, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11}, x)

	y, err := fullEntries(lat, 3, 2, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, 4, 3}, y, 1e-12)
}

func TestParseResampling(t *testing.T) {
	for in, want := range map[string]Resampling{
		"":         Bilinear,
		"nearest":  Nearest,
		"Bilinear": Bilinear,
		"cubic":    Cubic,
		"average":  Average,
		"mode":     Mode,
	} {
		got, err := ParseResampling(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseResampling("lanczos-ish")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	for _, k := range Kinds() {
		r, err := Open(k, Options{})
		require.NoError(t, err, k)
		assert.NotNil(t, r)
	}
	_, err := Open("modis", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smos")

	r, err := Open(KindSMAP, Options{Group: "Soil_Moisture_Retrieval_Data_PM"})
	require.NoError(t, err)
	s := r.(*smapReader)
	assert.Equal(t, "_pm", s.suffix)
	assert.Equal(t, "SMAP", s.opts.Name)
	assert.Equal(t, "soil_moisture", s.opts.Variable)
}

func TestSubdatasetNames(t *testing.T) {
	assert.Equal(t, `NETCDF:"/d/lst.nc":LST`, netcdfName("/d/lst.nc", "LST"))
	assert.Equal(t, `HDF5:"/d/s.h5"://G/soil_moisture`, hdf5Name("/d/s.h5", "G", "soil_moisture"))
}

func TestFlipRows(t *testing.T) {
	d := []float64{1, 2, 3, 4, 5, 6}
	flipRows(d, 2, 3)
	assert.Equal(t, []float64{5, 6, 3, 4, 1, 2}, d)
}

func sample(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.FromRows("LST", grid.DefaultCRS,
		[]float64{0.5, 1.5, 2.5}, []float64{1.5, 0.5},
		[][]float64{{20, math.NaN(), 30}, {35, 40, 25}})
	require.NoError(t, err)
	return g
}

func TestGeoTIFFRoundTrip(t *testing.T) {
	g := sample(t)
	path := filepath.Join(t.TempDir(), "out", "lst.tif")
	require.NoError(t, WriteGeoTIFF(path, g))

	r, err := Open(KindGeoTIFF, Options{Name: "LST"})
	require.NoError(t, err)
	back, err := r.Read(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, grid.DefaultCRS, back.CRS)
	assert.InDeltaSlice(t, g.X, back.X, 1e-9)
	assert.InDeltaSlice(t, g.Y, back.Y, 1e-9)
	assert.True(t, math.IsNaN(back.At(0, 1)))
	assert.Equal(t, 40.0, back.At(1, 1))
}

func TestReprojectMatch_Identity(t *testing.T) {
	g := sample(t)
	ref := g.Like("POP")

	w := NewGDALWarper()
	out, err := w.ReprojectMatch(context.Background(), g, ref, Nearest)
	require.NoError(t, err)
	assert.Equal(t, "LST", out.Name)
	assert.Equal(t, ref.X, out.X)
	assert.Equal(t, ref.Y, out.Y)
	assert.Equal(t, 35.0, out.At(1, 0))
	assert.True(t, math.IsNaN(out.At(0, 1)))
}

func TestResample(t *testing.T) {
	g := sample(t)
	w := NewGDALWarper()
	out, err := w.Resample(context.Background(), g, 2, Nearest)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Rows())
	assert.Equal(t, 6, out.Cols())
	assert.InDelta(t, 0.25, out.X[0], 1e-9)
	assert.InDelta(t, 1.75, out.Y[0], 1e-9)

	_, err = w.Resample(context.Background(), g, 0, Nearest)
	assert.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := readBand(ctx, "unused.tif", "X")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetadataItems(t *testing.T) {
	g := grid.New("LST", grid.DefaultCRS, []float64{0.5}, []float64{0.5})
	assert.Empty(t, metadataItems(g))

	g.Description = "Land Surface Temperature"
	g.Units = "°C"
	g.Time = time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, [][2]string{
		{"DESCRIPTION", "Land Surface Temperature"},
		{"UNITS", "°C"},
		{"TIFFTAG_DATETIME", "2023:06:15 12:00:00"},
	}, metadataItems(g))
}
