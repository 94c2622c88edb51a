package raster

import (
	"context"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// ErrDatePattern is returned when a file name does not carry exactly one
// _YYYYMMDD_ date.
var ErrDatePattern = eris.New("raster: file name must contain exactly one _YYYYMMDD_ date")

const (
	smapDefaultGroup = "Soil_Moisture_Retrieval_Data_AM"
	smapFill         = -9999.0
)

// smapReader reads SMAP L3 enhanced soil moisture HDF5 files. Pixels with
// the fill value or with bit 0 of the retrieval quality flag set are
// no-data. Coordinate vectors are recovered from the 2-D lon/lat arrays.
type smapReader struct {
	opts   Options
	suffix string
}

func newSMAPReader(opts Options) *smapReader {
	if opts.Group == "" {
		opts.Group = smapDefaultGroup
	}
	opts = withVariable(opts, "soil_moisture")
	var suffix string
	if strings.HasSuffix(opts.Group, "_PM") {
		suffix = "_pm"
	}
	return &smapReader{opts: opts, suffix: suffix}
}

func (r *smapReader) Read(ctx context.Context, path string) (*grid.Grid, error) {
	date, err := DateFromFilename(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	data, rows, cols, err := readArray(ctx, hdf5Name(path, r.opts.Group, r.opts.Variable))
	if err != nil {
		return nil, eris.Wrap(err, "raster: read SMAP")
	}
	flag, _, _, err := readArray(ctx, hdf5Name(path, r.opts.Group, "retrieval_qual_flag"+r.suffix))
	if err != nil {
		return nil, eris.Wrap(err, "raster: read SMAP quality flag")
	}
	lonAll, _, _, err := readArray(ctx, hdf5Name(path, r.opts.Group, "longitude"+r.suffix))
	if err != nil {
		return nil, eris.Wrap(err, "raster: read SMAP longitude")
	}
	latAll, _, _, err := readArray(ctx, hdf5Name(path, r.opts.Group, "latitude"+r.suffix))
	if err != nil {
		return nil, eris.Wrap(err, "raster: read SMAP latitude")
	}

	lon, err := fullEntries(lonAll, rows, cols, false)
	if err != nil {
		return nil, eris.Wrap(err, "raster: SMAP longitude")
	}
	lat, err := fullEntries(latAll, rows, cols, true)
	if err != nil {
		return nil, eris.Wrap(err, "raster: SMAP latitude")
	}

	g := grid.New(r.opts.Name, grid.DefaultCRS, lon, lat)
	for i, v := range data {
		if v == smapFill || int64(flag[i])&1 == 1 {
			g.Data[i] = math.NaN()
			continue
		}
		g.Data[i] = v
	}
	g.Units = "cm³/cm³"
	g.Description = "Soil Moisture"
	g.Time = date
	return g, nil
}

// fullEntries collapses a 2-D coordinate array into a vector: per column
// (byRow false) or per row (byRow true) it takes the first non-fill value.
// Vectors with gaps are filled by linear interpolation between neighbours.
func fullEntries(arr []float64, rows, cols int, byRow bool) ([]float64, error) {
	n, m := cols, rows
	if byRow {
		n, m = rows, cols
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.NaN()
		for j := 0; j < m; j++ {
			idx := j*cols + i
			if byRow {
				idx = i*cols + j
			}
			if v := arr[idx]; v != smapFill && !math.IsNaN(v) {
				out[i] = v
				break
			}
		}
	}
	if err := fillGaps(out); err != nil {
		return nil, err
	}
	return out, nil
}

// fillGaps interpolates NaN entries from the nearest valid neighbours and
// extrapolates at the ends with the adjacent spacing.
func fillGaps(v []float64) error {
	var valid []int
	for i, x := range v {
		if !math.IsNaN(x) {
			valid = append(valid, i)
		}
	}
	if len(valid) < 2 {
		return eris.Errorf("raster: need at least 2 valid coordinates, have %d", len(valid))
	}
	for k := 0; k < len(valid)-1; k++ {
		a, b := valid[k], valid[k+1]
		step := (v[b] - v[a]) / float64(b-a)
		for i := a + 1; i < b; i++ {
			v[i] = v[a] + step*float64(i-a)
		}
	}
	first, second := valid[0], valid[1]
	head := (v[second] - v[first]) / float64(second-first)
	for i := first - 1; i >= 0; i-- {
		v[i] = v[i+1] - head
	}
	last, prev := valid[len(valid)-1], valid[len(valid)-2]
	tail := (v[last] - v[prev]) / float64(last-prev)
	for i := last + 1; i < len(v); i++ {
		v[i] = v[i-1] + tail
	}
	return nil
}

var dateRe = regexp.MustCompile(`^_(\d{4})(\d{2})(\d{2})_`)

// DateFromFilename extracts the single _YYYYMMDD_ date of a file name.
// Overlapping candidates are considered, so "_20230102_20230103_" holds two.
func DateFromFilename(name string) (time.Time, error) {
	var matches [][]string
	for i := 0; i < len(name); i++ {
		if name[i] != '_' {
			continue
		}
		if m := dateRe.FindStringSubmatch(name[i:]); m != nil {
			matches = append(matches, m)
		}
	}
	if len(matches) != 1 {
		return time.Time{}, eris.Wrapf(ErrDatePattern, "file %s has %d date-like patterns", name, len(matches))
	}
	m := matches[0]
	yyyy, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	dd, _ := strconv.Atoi(m[3])
	t := time.Date(yyyy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(mm) || t.Day() != dd {
		return time.Time{}, eris.Wrapf(ErrDatePattern, "file %s has invalid date %s%s%s", name, m[1], m[2], m[3])
	}
	return t, nil
}
