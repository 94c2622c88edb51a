// Package model holds the records persisted in the run ledger.
package model

import "time"

// RunStatus represents the current state of a risk mapping run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusLoading   RunStatus = "loading"
	RunStatusAligning  RunStatus = "aligning"
	RunStatusScoring   RunStatus = "scoring"
	RunStatusExporting RunStatus = "exporting"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of the pipeline over an AOI.
type Run struct {
	ID        string     `json:"id"`
	Reference string     `json:"reference"`
	AOI       string     `json:"aoi"`
	AOIWKB    []byte     `json:"-"`
	Layers    []string   `json:"layers"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Rows        int           `json:"rows"`
	Cols        int           `json:"cols"`
	ValidPixels int           `json:"valid_pixels"`
	MeanRisk    float64       `json:"mean_risk"`
	MaxRisk     float64       `json:"max_risk"`
	Variants    []string      `json:"variants,omitempty"`
	Outputs     int           `json:"outputs"`
	Phases      []PhaseResult `json:"phases"`
	Error       string        `json:"error,omitempty"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OutputKind is the file type of an exported artefact.
type OutputKind string

const (
	OutputGeoTIFF OutputKind = "geotiff"
	OutputPNG     OutputKind = "png"
	OutputXLSX    OutputKind = "xlsx"
)

// Output is one file written by a run.
type Output struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	Kind      OutputKind `json:"kind"`
	Layer     string     `json:"layer,omitempty"`
	Path      string     `json:"path"`
	CreatedAt time.Time  `json:"created_at"`
}
