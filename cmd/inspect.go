package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/raster"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <kind> <path>",
	Short: "Print the metadata and statistics of one raster",
	Long:  "Reads a raster with the reader for its kind (pop, lst, ndvi, smap, smos, geotiff) and prints its normalised metadata.",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return kindNames(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveDefault
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		variable, _ := cmd.Flags().GetString("variable")
		group, _ := cmd.Flags().GetString("group")

		r, err := raster.Open(raster.Kind(strings.ToLower(args[0])), raster.Options{Variable: variable, Group: group})
		if err != nil {
			return err
		}
		g, err := r.Read(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		formatInspect(os.Stdout, g)
		return nil
	},
}

func kindNames() []string {
	kinds := raster.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func formatInspect(w io.Writer, g *grid.Grid) {
	_, _ = fmt.Fprint(w, g.Metadata().String())
	s := g.Stats()
	_, _ = fmt.Fprintf(w, "valid=%d nodata=%d min=%g max=%g mean=%g std=%g\n",
		s.Valid, s.NoData, s.Min, s.Max, s.Mean, s.StdDev)
	if !g.Time.IsZero() {
		_, _ = fmt.Fprintf(w, "date=%s\n", g.Time.Format("2006-01-02"))
	}
}

func init() {
	inspectCmd.Flags().String("variable", "", "NetCDF variable or HDF5 dataset")
	inspectCmd.Flags().String("group", "", "HDF5 group (SMAP)")
	rootCmd.AddCommand(inspectCmd)
}
