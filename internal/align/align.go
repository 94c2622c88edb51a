// Package align brings every input layer onto the geometry of one reference
// layer: each layer is cropped to the area of interest first, then every
// non-reference layer is reprojected to match the cropped reference.
package align

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/raster"
)

// ErrUnknownReference is returned when the reference layer is not among the
// inputs.
var ErrUnknownReference = eris.New("align: unknown reference layer")

// Aligner crops and matches layers.
type Aligner struct {
	warper raster.Warper
	method raster.Resampling
	scale  float64
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithResampling sets the warp resampling method (default bilinear).
func WithResampling(m raster.Resampling) Option {
	return func(a *Aligner) { a.method = m }
}

// WithScale rescales the cropped reference grid by factor before matching.
// Factors of 0 or 1 keep its native resolution.
func WithScale(factor float64) Option {
	return func(a *Aligner) { a.scale = factor }
}

// New returns an Aligner backed by w.
func New(w raster.Warper, opts ...Option) *Aligner {
	a := &Aligner{warper: w, method: raster.Bilinear}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Align crops layers to bounds and matches them to the layer named
// reference. The output keeps input order; the reference is only cropped.
// Empty bounds disable cropping.
func (a *Aligner) Align(ctx context.Context, layers []*grid.Grid, bounds grid.Bounds, reference string) ([]*grid.Grid, error) {
	refIdx := -1
	for i, l := range layers {
		if strings.EqualFold(l.Name, reference) {
			refIdx = i
			break
		}
	}
	if refIdx < 0 {
		return nil, eris.Wrapf(ErrUnknownReference, "align: %q", reference)
	}

	box := bounds
	cropped := make([]*grid.Grid, len(layers))
	for i, l := range layers {
		if box.Empty() {
			cropped[i] = l
			continue
		}
		c, err := l.Crop(box)
		if err != nil {
			return nil, eris.Wrapf(err, "align: crop %s", l.Name)
		}
		zap.L().Debug("align: cropped layer",
			zap.String("layer", l.Name),
			zap.Int("rows", c.Rows()),
			zap.Int("cols", c.Cols()),
		)
		cropped[i] = c
	}

	ref := cropped[refIdx]
	if a.scale != 0 && a.scale != 1 {
		r, err := a.warper.Resample(ctx, ref, a.scale, a.method)
		if err != nil {
			return nil, eris.Wrapf(err, "align: resample %s", ref.Name)
		}
		zap.L().Info("align: reference resampled",
			zap.String("reference", ref.Name),
			zap.Float64("factor", a.scale),
		)
		ref = r
		cropped[refIdx] = r
	}
	out := make([]*grid.Grid, len(layers))
	for i, l := range cropped {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i == refIdx || (l.CRS == ref.CRS && l.Aligned(ref)) {
			out[i] = l
			continue
		}
		m, err := a.warper.ReprojectMatch(ctx, l, ref, a.method)
		if err != nil {
			return nil, eris.Wrapf(err, "align: match %s to %s", l.Name, ref.Name)
		}
		out[i] = m
	}

	zap.L().Info("align: layers matched",
		zap.String("reference", ref.Name),
		zap.Int("layers", len(out)),
		zap.Int("rows", ref.Rows()),
		zap.Int("cols", ref.Cols()),
	)
	return out, nil
}
