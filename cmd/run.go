package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/config"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/monitoring"
	"github.com/sells-group/riskmap-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the risk pipeline for the configured layers",
	Long:  "Loads, aligns, classifies and aggregates every enabled layer, then writes GeoTIFF, PNG and XLSX outputs under <output.dir>/<reference>/.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		metrics := monitoring.NewMetrics()
		p := pipeline.New(cfg, st, pipeline.WithMetrics(metrics))
		res, err := p.Run(ctx)
		if path := cfg.Output.MetricsFile; path != "" {
			if mErr := writeMetricsFile(path, prometheus.DefaultGatherer); mErr != nil {
				zap.L().Warn("failed to write metrics file", zap.String("path", path), zap.Error(mErr))
			}
		}
		if res != nil && res.Run != nil {
			zap.L().Info("run recorded",
				zap.String("run_id", res.Run.ID),
				zap.String("status", string(res.Run.Status)),
			)
		}
		if err != nil {
			return err
		}
		return writeRunResult(os.Stdout, res.Run, res.Outputs)
	},
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("reference") {
		c.Input.Reference, _ = f.GetString("reference")
	}
	if f.Changed("aoi") {
		c.Input.AOI, _ = f.GetString("aoi")
	}
	if f.Changed("output") {
		c.Output.Dir, _ = f.GetString("output")
	}
	if f.Changed("thresholds") {
		c.Thresholds.File, _ = f.GetString("thresholds")
	}
	if f.Changed("estimate") {
		c.Thresholds.Estimate, _ = f.GetBool("estimate")
	}
	if f.Changed("discrete") {
		c.Risk.Discrete, _ = f.GetBool("discrete")
	}
	if f.Changed("leave-out") {
		c.Risk.LeaveOut, _ = f.GetStringSlice("leave-out")
	}
	if f.Changed("metrics-file") {
		c.Output.MetricsFile, _ = f.GetString("metrics-file")
	}
}

// writeMetricsFile writes everything g gathers to path, replacing it
// atomically.
func writeMetricsFile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create directory for %s", path)
	}
	return eris.Wrap(prometheus.WriteToTextfile(path, g), "write metrics file")
}

type runOutput struct {
	Run     *model.Run     `json:"run"`
	Outputs []model.Output `json:"outputs"`
}

func writeRunResult(w io.Writer, run *model.Run, outputs []model.Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runOutput{Run: run, Outputs: outputs})
}

func init() {
	runCmd.Flags().String("reference", "", "reference layer name (default from config)")
	runCmd.Flags().String("aoi", "", "AOI GeoJSON or shapefile (default from config)")
	runCmd.Flags().String("output", "", "output directory (default from config)")
	runCmd.Flags().String("thresholds", "", "YAML threshold file")
	runCmd.Flags().Bool("estimate", false, "derive risk levels from layer quantiles")
	runCmd.Flags().Bool("discrete", false, "round the composite risk to whole levels")
	runCmd.Flags().StringSlice("leave-out", nil, "also compute the composite without these layers")
	runCmd.Flags().String("metrics-file", "", "write run metrics in Prometheus text format to this file")
	rootCmd.AddCommand(runCmd)
}
