// Package store persists the run ledger: runs, their phases and the files
// each run exported.
package store

import (
	"context"
	"time"

	"github.com/sells-group/riskmap-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// NewRun describes a run about to start.
type NewRun struct {
	Reference string
	AOI       string
	AOIWKB    []byte
	Layers    []string
}

// Store defines the persistence interface for the risk pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run NewRun) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Outputs
	AddOutput(ctx context.Context, runID string, kind model.OutputKind, layer, path string) (*model.Output, error)
	ListOutputs(ctx context.Context, runID string) ([]model.Output, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
