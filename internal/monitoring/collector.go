package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsQueued    int     `json:"runs_queued"`
	RunsFailRate  float64 `json:"runs_fail_rate"`
	AvgMeanRisk   float64 `json:"avg_mean_risk"`
	MaxMeanRisk   float64 `json:"max_mean_risk"`
	AvgValidRatio float64 `json:"avg_valid_ratio"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run ledger.
type Collector struct {
	store store.Store
	clock clockwork.Clock
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{store: st, clock: clock}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.clock.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var (
		totalRisk  float64
		totalRatio float64
		scored     int
		withRisk   int
	)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		}
		if r.Result == nil || r.Status != model.RunStatusComplete {
			continue
		}
		scored++
		if r.Result.ValidPixels > 0 {
			withRisk++
			totalRisk += r.Result.MeanRisk
			if r.Result.MeanRisk > snap.MaxMeanRisk {
				snap.MaxMeanRisk = r.Result.MeanRisk
			}
		}
		if px := r.Result.Rows * r.Result.Cols; px > 0 {
			totalRatio += float64(r.Result.ValidPixels) / float64(px)
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunsFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if scored > 0 {
		snap.AvgValidRatio = totalRatio / float64(scored)
	}
	if withRisk > 0 {
		snap.AvgMeanRisk = totalRisk / float64(withRisk)
	}
	return snap, nil
}
