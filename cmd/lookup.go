package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/raster"
)

// compositeName is the layer name the composite risk is served under.
const compositeName = "RISK"

var lookupCmd = &cobra.Command{
	Use:   "lookup <x> <y>",
	Short: "Print every layer's value at a coordinate",
	Long:  "Reads the aligned layers and composite risk of a finished run and prints the pixel values nearest to (x, y).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return eris.Wrapf(err, "lookup: parse x %q", args[0])
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrapf(err, "lookup: parse y %q", args[1])
		}

		dir, _ := cmd.Flags().GetString("dir")
		layers, err := loadRunLayers(cmd.Context(), runDir(dir))
		if err != nil {
			return err
		}
		values, err := lookupAll(layers, x, y)
		if isOutOfBounds(err) {
			// An out of bounds point is an answer, not a failure.
			_, _ = fmt.Fprintln(os.Stdout, "Out of bounds")
			return nil
		}
		if err != nil {
			return err
		}
		formatLookup(os.Stdout, values)
		return nil
	},
}

// runDir defaults to <output.dir>/<reference>.
func runDir(dir string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(cfg.Output.Dir, cfg.Input.Reference)
}

// loadRunLayers reads matched_*.tif in name order followed by
// risk_estimation.tif when present.
func loadRunLayers(ctx context.Context, dir string) ([]*grid.Grid, error) {
	matched, err := filepath.Glob(filepath.Join(dir, "matched_*.tif"))
	if err != nil {
		return nil, eris.Wrap(err, "lookup: glob layers")
	}
	sort.Strings(matched)
	layers, err := readAligned(ctx, matched)
	if err != nil {
		return nil, err
	}

	composite := filepath.Join(dir, "risk_estimation.tif")
	if _, statErr := os.Stat(composite); statErr == nil {
		r, err := raster.Open(raster.KindGeoTIFF, raster.Options{Name: compositeName})
		if err != nil {
			return nil, err
		}
		g, err := r.Read(ctx, composite)
		if err != nil {
			return nil, err
		}
		layers = append(layers, g)
	}
	if len(layers) == 0 {
		return nil, eris.Errorf("lookup: no layers found in %s", dir)
	}
	return layers, nil
}

// lookupValue is one layer's value at a point; Value is nil for no-data.
type lookupValue struct {
	Layer string   `json:"layer"`
	Units string   `json:"units,omitempty"`
	Value *float64 `json:"value"`
}

// lookupAll returns every layer's value at (x, y). A point outside any layer
// yields grid.ErrOutOfBounds.
func lookupAll(layers []*grid.Grid, x, y float64) ([]lookupValue, error) {
	out := make([]lookupValue, 0, len(layers))
	for _, l := range layers {
		v, err := l.Lookup(x, y)
		if err != nil {
			return nil, err
		}
		lv := lookupValue{Layer: l.Name, Units: l.Units}
		if !grid.IsNoData(v) {
			lv.Value = &v
		}
		out = append(out, lv)
	}
	return out, nil
}

func formatLookup(w io.Writer, values []lookupValue) {
	for _, v := range values {
		val := "no data"
		if v.Value != nil {
			val = strconv.FormatFloat(*v.Value, 'g', 6, 64)
			if v.Units != "" {
				val += " " + v.Units
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", v.Layer, val)
	}
}

// isOutOfBounds reports whether err is a lookup outside the layers.
func isOutOfBounds(err error) bool {
	return errors.Is(err, grid.ErrOutOfBounds)
}

func init() {
	lookupCmd.Flags().String("dir", "", "run output directory (default <output.dir>/<reference>)")
	rootCmd.AddCommand(lookupCmd)
}
