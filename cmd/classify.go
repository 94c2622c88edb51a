package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/classify"
	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/raster"
	"github.com/sells-group/riskmap-cli/internal/threshold"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <geotiff>...",
	Short: "Classify aligned GeoTIFF layers against thresholds",
	Long: `Classifies already aligned GeoTIFFs (such as matched_<LAYER>.tif from a run).

One file is classified against its binary interval, several files are combined
so that a pixel is 1 only where every layer is in range. --digits keeps the
digit-encoded accumulator and --rank assigns per-level risk ranks instead.
Layer names come from the file names with any matched_ prefix removed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digits, _ := cmd.Flags().GetBool("digits")
		rank, _ := cmd.Flags().GetBool("rank")
		out, _ := cmd.Flags().GetString("out")
		file, _ := cmd.Flags().GetString("thresholds")
		if file == "" {
			file = cfg.Thresholds.File
		}

		set := threshold.Defaults()
		if file != "" {
			s, err := threshold.LoadFile(file)
			if err != nil {
				return err
			}
			set = s
		}

		layers, err := readAligned(cmd.Context(), args)
		if err != nil {
			return err
		}

		g, err := classifyLayers(layers, set, rank, digits)
		if err != nil {
			return err
		}
		if digits && !rank {
			names := make([]string, len(layers))
			for i, l := range layers {
				names[i] = l.Name
			}
			formatDigitHistogram(os.Stdout, g, names)
		} else {
			formatHistogram(os.Stdout, g)
		}

		if out != "" {
			if err := raster.WriteGeoTIFF(out, g); err != nil {
				return err
			}
			zap.L().Info("classification written", zap.String("path", out))
		}
		return nil
	},
}

// layerName derives a layer name from a GeoTIFF path.
func layerName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ToUpper(strings.TrimPrefix(base, "matched_"))
}

func readAligned(ctx context.Context, paths []string) ([]*grid.Grid, error) {
	layers := make([]*grid.Grid, 0, len(paths))
	for _, path := range paths {
		r, err := raster.Open(raster.KindGeoTIFF, raster.Options{Name: layerName(path)})
		if err != nil {
			return nil, err
		}
		g, err := r.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, g)
	}
	return layers, nil
}

func classifyLayers(layers []*grid.Grid, set *threshold.Set, rank, digits bool) (*grid.Grid, error) {
	if rank {
		if len(layers) != 1 {
			return nil, eris.Errorf("classify: --rank takes exactly one layer, got %d", len(layers))
		}
		spec, err := set.Spec(layers[0].Name)
		if err != nil {
			return nil, err
		}
		return classify.Rank(layers[0], spec)
	}

	intervals := make([]threshold.Interval, len(layers))
	for i, l := range layers {
		iv, err := set.Interval(l.Name)
		if err != nil {
			return nil, err
		}
		intervals[i] = iv
	}
	if len(layers) == 1 && !digits {
		return classify.Binary(layers[0], intervals[0])
	}
	return classify.Combine(layers, intervals, digits)
}

func sortedKeys(h map[int]int) []int {
	keys := make([]int, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func formatHistogram(w io.Writer, g *grid.Grid) {
	h := g.Histogram()
	_, _ = fmt.Fprintf(w, "%s (%d x %d)\n", g.Name, g.Rows(), g.Cols())
	for _, k := range sortedKeys(h) {
		_, _ = fmt.Fprintf(w, "  %d\t%d\n", k, h[k])
	}
}

// formatDigitHistogram prints a digit-encoded histogram with the layers in
// range for each accumulator value.
func formatDigitHistogram(w io.Writer, g *grid.Grid, names []string) {
	h := g.Histogram()
	_, _ = fmt.Fprintf(w, "%s (%d x %d)\n", g.Name, g.Rows(), g.Cols())
	for _, k := range sortedKeys(h) {
		var in []string
		for i, ok := range classify.Digits(float64(k), len(names)) {
			if ok {
				in = append(in, names[i])
			}
		}
		label := strings.Join(in, ",")
		if label == "" {
			label = "none"
		}
		_, _ = fmt.Fprintf(w, "  %d\t%d\t%s\n", k, h[k], label)
	}
}

func init() {
	classifyCmd.Flags().Bool("digits", false, "keep the digit-encoded per-layer accumulator")
	classifyCmd.Flags().Bool("rank", false, "assign risk ranks from the level tables")
	classifyCmd.Flags().String("thresholds", "", "YAML threshold file (default from config)")
	classifyCmd.Flags().String("out", "", "write the classification to this GeoTIFF")
	rootCmd.AddCommand(classifyCmd)
}
