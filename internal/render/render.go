// Package render draws grids as PNG heat maps with gonum/plot.
package render

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/sells-group/riskmap-cli/internal/grid"
)

// Options controls a heat map.
type Options struct {
	Title string
	// Levels > 0 draws a discrete map with one colour per risk level 1..Levels.
	Levels int
	// Outline rings are drawn over the map, typically the AOI boundary.
	Outline [][]geom.Coord
	Width   vg.Length
	Height  vg.Length
	// Colors is the number of colours of a continuous palette.
	Colors int
}

func (o Options) withDefaults() Options {
	if o.Width == 0 {
		o.Width = 8 * vg.Inch
	}
	if o.Height == 0 {
		o.Height = 6 * vg.Inch
	}
	if o.Colors == 0 {
		o.Colors = 64
	}
	return o
}

// levelColors runs from low (green) to high (dark red) risk.
var levelColors = []color.Color{
	color.NRGBA{R: 0x1a, G: 0x98, B: 0x50, A: 0xff},
	color.NRGBA{R: 0x91, G: 0xcf, B: 0x60, A: 0xff},
	color.NRGBA{R: 0xfe, G: 0xe0, B: 0x8b, A: 0xff},
	color.NRGBA{R: 0xfc, G: 0x8d, B: 0x59, A: 0xff},
	color.NRGBA{R: 0xd7, G: 0x30, B: 0x27, A: 0xff},
	color.NRGBA{R: 0x7f, G: 0x00, B: 0x00, A: 0xff},
}

// UnclassifiedColor marks valid pixels below level 1, e.g. a score of 0 where
// no interval matched. No-data stays transparent.
var UnclassifiedColor color.Color = color.NRGBA{R: 0xbd, G: 0xbd, B: 0xbd, A: 0xff}

type fixedPalette []color.Color

func (p fixedPalette) Colors() []color.Color { return p }

func discretePalette(levels int) palette.Palette {
	out := make(fixedPalette, levels)
	for i := range out {
		// Spread the levels over the colour ramp.
		j := 0
		if levels > 1 {
			j = i * (len(levelColors) - 1) / (levels - 1)
		}
		out[i] = levelColors[j]
	}
	return out
}

// Title builds a display title for a grid.
func Title(g *grid.Grid) string {
	name := strings.ReplaceAll(g.Name, "_", " ")
	if g.Description != "" && !strings.EqualFold(g.Description, g.Name) {
		return g.Description + " (" + name + ")"
	}
	return cases.Title(language.English, cases.NoLower).String(name)
}

// Plot builds the heat map plot of g without saving it.
func Plot(g *grid.Grid, opts Options) (*plot.Plot, error) {
	opts = opts.withDefaults()
	if g.Rows() == 0 || g.Cols() == 0 {
		return nil, eris.Errorf("render: grid %s is empty", g.Name)
	}

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = Title(g)
	}
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	p.Add(heatMap(g, opts))

	for _, ring := range opts.Outline {
		pts := make(plotter.XYs, len(ring))
		for i, c := range ring {
			pts[i] = plotter.XY{X: c.X(), Y: c.Y()}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, eris.Wrap(err, "render: outline")
		}
		line.Color = color.Black
		line.Width = vg.Points(1)
		p.Add(line)
	}
	return p, nil
}

func heatMap(g *grid.Grid, opts Options) *plotter.HeatMap {
	var pal palette.Palette
	if opts.Levels > 0 {
		pal = discretePalette(opts.Levels)
	} else {
		pal = palette.Heat(opts.Colors, 1)
	}
	hm := plotter.NewHeatMap(xyz{g}, pal)
	hm.NaN = color.Transparent
	if opts.Levels > 0 {
		hm.Min, hm.Max = 1, float64(opts.Levels)
		hm.Underflow = UnclassifiedColor
		hm.Overflow = levelColors[len(levelColors)-1]
	} else {
		st := g.Stats()
		if st.Valid == 0 {
			hm.Min, hm.Max = 0, 1
		} else {
			hm.Min, hm.Max = st.Min, st.Max
		}
	}
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	return hm
}

// HeatMap renders g to a PNG at path.
func HeatMap(path string, g *grid.Grid, opts Options) error {
	opts = opts.withDefaults()
	p, err := Plot(g, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "render: create directory for %s", path)
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return eris.Wrapf(err, "render: save %s", path)
	}
	return nil
}

// Panels renders several grids side by side in one PNG, one tile per grid.
func Panels(path string, grids []*grid.Grid, opts Options) error {
	opts = opts.withDefaults()
	if len(grids) == 0 {
		return eris.New("render: no grids to draw")
	}

	row := make([]*plot.Plot, len(grids))
	for i, g := range grids {
		o := opts
		o.Title = ""
		p, err := Plot(g, o)
		if err != nil {
			return err
		}
		row[i] = p
	}
	plots := [][]*plot.Plot{row}

	width := opts.Width * vg.Length(len(grids)) / 2
	img := vgimg.New(width, opts.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: len(grids), PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, dc)
	for i, p := range row {
		p.Draw(canvases[0][i])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "render: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "render: create %s", path)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "render: write %s", path)
	}
	return eris.Wrap(f.Close(), "render: close png")
}

// xyz adapts a grid to plotter.GridXYZ. Rows are exposed south to north so
// that Y increases with the row index.
type xyz struct {
	g *grid.Grid
}

func (a xyz) Dims() (c, r int) { return a.g.Cols(), a.g.Rows() }

func (a xyz) row(r int) int {
	if a.descending() {
		return a.g.Rows() - 1 - r
	}
	return r
}

func (a xyz) descending() bool {
	return a.g.Rows() > 1 && a.g.Y[0] > a.g.Y[a.g.Rows()-1]
}

func (a xyz) Z(c, r int) float64 {
	v := a.g.At(a.row(r), c)
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func (a xyz) X(c int) float64 { return a.g.X[c] }

func (a xyz) Y(r int) float64 { return a.g.Y[a.row(r)] }
