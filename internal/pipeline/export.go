package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/raster"
	"github.com/sells-group/riskmap-cli/internal/render"
	"github.com/sells-group/riskmap-cli/internal/report"
)

// OutputDir returns the directory a run writes to: <output.dir>/<reference>.
func (p *Pipeline) OutputDir() string {
	return filepath.Join(p.cfg.Output.Dir, p.cfg.Input.Reference)
}

// export writes the enabled artefacts and records each one in the ledger.
func (p *Pipeline) export(ctx context.Context, res *Result) (*model.PhaseResult, error) {
	dir := p.OutputDir()
	out := p.cfg.Output
	if !out.GeoTIFF && !out.PNG && !out.XLSX {
		return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
	}

	record := func(kind model.OutputKind, layer, path string) {
		o, err := p.store.AddOutput(ctx, res.Run.ID, kind, layer, path)
		if err != nil {
			zap.L().Warn("pipeline: failed to record output", zap.String("path", path), zap.Error(err))
			o = &model.Output{RunID: res.Run.ID, Kind: kind, Layer: layer, Path: path}
		}
		res.Outputs = append(res.Outputs, *o)
		if p.metrics != nil {
			p.metrics.OutputsTotal.WithLabelValues(string(kind)).Inc()
		}
	}

	if out.GeoTIFF {
		if err := p.exportGeoTIFF(ctx, dir, res, record); err != nil {
			return nil, err
		}
	}
	if out.PNG {
		if err := p.exportPNG(ctx, dir, res, record); err != nil {
			return nil, err
		}
	}
	if out.XLSX {
		path := filepath.Join(dir, "summary.xlsx")
		if err := report.WriteXLSX(path, p.summary(res)); err != nil {
			return nil, err
		}
		record(model.OutputXLSX, "", path)
	}

	return &model.PhaseResult{Metadata: map[string]any{
		"dir":     dir,
		"outputs": len(res.Outputs),
	}}, nil
}

type recordFunc func(kind model.OutputKind, layer, path string)

func (p *Pipeline) exportGeoTIFF(ctx context.Context, dir string, res *Result, record recordFunc) error {
	write := func(name, layer string, g *grid.Grid) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := raster.WriteGeoTIFF(path, g); err != nil {
			return err
		}
		record(model.OutputGeoTIFF, layer, path)
		return nil
	}

	for _, l := range res.Layers {
		if err := write("matched_"+l.Name+".tif", l.Name, l); err != nil {
			return err
		}
	}
	for _, g := range res.PerLayer {
		if err := write("risk_per_layer_"+g.Name+".tif", g.Name, g); err != nil {
			return err
		}
	}
	if res.Binary != nil {
		if err := write("binary.tif", "", res.Binary); err != nil {
			return err
		}
	}
	if err := write("risk_estimation.tif", "", res.Risk); err != nil {
		return err
	}
	for _, l := range res.Layers {
		if v, ok := res.Variants[l.Name]; ok {
			if err := write("risk_estimation_no_"+l.Name+".tif", l.Name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) exportPNG(ctx context.Context, dir string, res *Result, record recordFunc) error {
	var outline render.Options
	if res.AOI != nil {
		outline.Outline = res.AOI.Rings()
	}

	path := filepath.Join(dir, "input_data.png")
	if err := render.Panels(path, res.Layers, outline); err != nil {
		return err
	}
	record(model.OutputPNG, "", path)

	for i, g := range res.PerLayer {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := outline
		opts.Title = "Risk per layer: " + render.Title(g)
		if p.cfg.Risk.Discrete {
			opts.Levels = res.Specs[i].Levels()
		}
		path := filepath.Join(dir, "risk_per_layer_"+g.Name+".png")
		if err := render.HeatMap(path, g, opts); err != nil {
			return err
		}
		record(model.OutputPNG, g.Name, path)
	}

	opts := outline
	opts.Title = render.Title(res.Risk)
	if p.cfg.Risk.Discrete {
		opts.Levels = maxLevels(res)
	}
	path = filepath.Join(dir, "risk.png")
	if err := render.HeatMap(path, res.Risk, opts); err != nil {
		return eris.Wrap(err, "pipeline: render composite")
	}
	record(model.OutputPNG, "", path)
	return nil
}

func maxLevels(res *Result) int {
	n := 0
	for _, s := range res.Specs {
		n = max(n, s.Levels())
	}
	return n
}

// summary builds the workbook content of a run.
func (p *Pipeline) summary(res *Result) report.Summary {
	s := report.Summary{
		RunID:     res.Run.ID,
		Reference: p.cfg.Input.Reference,
		AOI:       p.cfg.Input.AOI,
		Created:   res.Run.CreatedAt,
	}
	for _, l := range res.Layers {
		s.Layers = append(s.Layers, report.NewLayer(l))
	}
	for _, g := range res.Ranked {
		s.Risk = append(s.Risk, report.NewRisk(g))
	}
	if res.Binary != nil {
		s.Risk = append(s.Risk, report.NewRisk(res.Binary))
	}
	s.Risk = append(s.Risk, report.NewRisk(res.Risk))
	return s
}
