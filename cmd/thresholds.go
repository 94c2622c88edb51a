package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/riskmap-cli/internal/threshold"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show or estimate classification thresholds",
}

var thresholdsShowCmd = &cobra.Command{
	Use:   "show [layer]...",
	Short: "Print the effective binary intervals and risk levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		set := threshold.Defaults()
		if cfg.Thresholds.File != "" {
			s, err := threshold.LoadFile(cfg.Thresholds.File)
			if err != nil {
				return err
			}
			set = s
		}
		layers := args
		if len(layers) == 0 {
			layers = []string{threshold.LayerPOP, threshold.LayerLST, threshold.LayerNDVI, threshold.LayerSMAP, threshold.LayerSMOS}
		}
		return formatThresholds(os.Stdout, set, layers)
	},
}

var thresholdsEstimateCmd = &cobra.Command{
	Use:   "estimate <geotiff>...",
	Short: "Estimate risk levels from layer quantiles and print them as YAML",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quantiles, _ := cmd.Flags().GetFloat64Slice("quantiles")
		if len(quantiles) == 0 {
			quantiles = cfg.Thresholds.Quantiles
		}
		layers, err := readAligned(cmd.Context(), args)
		if err != nil {
			return err
		}
		set := threshold.Defaults()
		for _, l := range layers {
			spec, err := threshold.EstimateQuantiles(l, quantiles, threshold.EstimateOptions{Ignore: cfg.Thresholds.Ignore})
			if err != nil {
				return err
			}
			set.Override(l.Name, spec)
		}
		return set.Encode(os.Stdout)
	},
}

func formatThresholds(out io.Writer, set *threshold.Set, layers []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LAYER\tBINARY\tLEVEL\tINTERVALS")
	_, _ = fmt.Fprintln(w, "-----\t------\t-----\t---------")
	for _, name := range layers {
		binary := "-"
		if iv, err := set.Interval(name); err == nil {
			binary = iv.String()
		}
		spec, err := set.Spec(name)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\n", strings.ToUpper(name), binary)
			continue
		}
		for lvl, ivs := range spec {
			parts := make([]string, len(ivs))
			for i, iv := range ivs {
				parts[i] = iv.String()
			}
			label := ""
			if lvl == 0 {
				label = strings.ToUpper(name)
			} else {
				binary = ""
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", label, binary, lvl+1, strings.Join(parts, " "))
		}
	}
	return w.Flush()
}

func init() {
	thresholdsEstimateCmd.Flags().Float64Slice("quantiles", nil, "quantiles in (0, 1) (default from config)")
	thresholdsCmd.AddCommand(thresholdsShowCmd)
	thresholdsCmd.AddCommand(thresholdsEstimateCmd)
	rootCmd.AddCommand(thresholdsCmd)
}
