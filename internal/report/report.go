// Package report writes the XLSX summary of a pipeline run and reads such
// workbooks back for display.
package report

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// Sheet names of the summary workbook.
const (
	SheetRun    = "Run"
	SheetLayers = "Layers"
	SheetRisk   = "Risk"
)

// Summary is the content of a run summary workbook.
type Summary struct {
	RunID     string
	Reference string
	AOI       string
	Created   time.Time
	Layers    []Layer
	Risk      []Risk
}

// Layer holds metadata and statistics of one aligned input layer.
type Layer struct {
	Meta  grid.Metadata
	Stats grid.Stats
}

// Risk holds the pixel count per risk level of one classified grid.
type Risk struct {
	Name      string
	Histogram map[int]int
}

// NewLayer summarises g.
func NewLayer(g *grid.Grid) Layer {
	return Layer{Meta: g.Metadata(), Stats: g.Stats()}
}

// NewRisk summarises a classified grid.
func NewRisk(g *grid.Grid) Risk {
	return Risk{Name: g.Name, Histogram: g.Histogram()}
}

var layerHeader = []string{"layer", "units", "rows", "cols", "res_x", "res_y", "min_x", "min_y", "max_x", "max_y", "crs", "valid", "nodata", "min", "max", "mean", "std_dev"}

// WriteXLSX writes s to path, creating the parent directory.
func WriteXLSX(path string, s Summary) error {
	f := xlsx.NewFile()

	run, err := f.AddSheet(SheetRun)
	if err != nil {
		return eris.Wrap(err, "report: add run sheet")
	}
	addStrings(run, "run_id", s.RunID)
	addStrings(run, "reference", s.Reference)
	addStrings(run, "aoi", s.AOI)
	addStrings(run, "created", s.Created.UTC().Format(time.RFC3339))

	layers, err := f.AddSheet(SheetLayers)
	if err != nil {
		return eris.Wrap(err, "report: add layers sheet")
	}
	addStrings(layers, layerHeader...)
	for _, l := range s.Layers {
		row := layers.AddRow()
		m := l.Meta
		row.AddCell().SetString(m.Name)
		row.AddCell().SetString(m.Units)
		row.AddCell().SetInt(m.Rows)
		row.AddCell().SetInt(m.Cols)
		for _, v := range []float64{m.ResX, m.ResY, m.Bounds.MinX, m.Bounds.MinY, m.Bounds.MaxX, m.Bounds.MaxY} {
			addFloat(row, v)
		}
		row.AddCell().SetString(m.CRS)
		row.AddCell().SetInt(l.Stats.Valid)
		row.AddCell().SetInt(l.Stats.NoData)
		for _, v := range []float64{l.Stats.Min, l.Stats.Max, l.Stats.Mean, l.Stats.StdDev} {
			addFloat(row, v)
		}
	}

	risk, err := f.AddSheet(SheetRisk)
	if err != nil {
		return eris.Wrap(err, "report: add risk sheet")
	}
	addStrings(risk, "grid", "level", "pixels")
	for _, r := range s.Risk {
		levels := make([]int, 0, len(r.Histogram))
		for l := range r.Histogram {
			levels = append(levels, l)
		}
		sort.Ints(levels)
		for _, l := range levels {
			row := risk.AddRow()
			row.AddCell().SetString(r.Name)
			row.AddCell().SetInt(l)
			row.AddCell().SetInt(r.Histogram[l])
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create directory for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addStrings(sh *xlsx.Sheet, values ...string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// addFloat writes v, leaving the cell empty for NaN.
func addFloat(row *xlsx.Row, v float64) {
	c := row.AddCell()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	c.SetFloat(v)
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open %s", path)
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("report: sheet %q not found in %s", name, path)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// Histogram reads the risk-level counts of one grid back from a workbook.
func Histogram(path, gridName string) (map[int]int, error) {
	rows, err := ReadSheet(path, SheetRisk)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int)
	for _, r := range rows[1:] {
		if len(r) < 3 || r[0] != gridName {
			continue
		}
		level, err := strconv.Atoi(r[1])
		if err != nil {
			return nil, eris.Wrapf(err, "report: level %q", r[1])
		}
		n, err := strconv.Atoi(r[2])
		if err != nil {
			return nil, eris.Wrapf(err, "report: count %q", r[2])
		}
		out[level] = n
	}
	return out, nil
}
