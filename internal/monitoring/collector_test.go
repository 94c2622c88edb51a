package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	mu      sync.Mutex
	runs    []model.Run
	listErr error
	lists   int
}

func (m *mockStore) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// Unused store methods satisfy the interface.
func (m *mockStore) CreateRun(context.Context, store.NewRun) (*model.Run, error)    { return nil, nil }
func (m *mockStore) UpdateRunStatus(context.Context, string, model.RunStatus) error { return nil }
func (m *mockStore) UpdateRunResult(context.Context, string, model.RunStatus, *model.RunResult) error {
	return nil
}
func (m *mockStore) GetRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (m *mockStore) CreatePhase(context.Context, string, string) (*model.RunPhase, error) {
	return nil, nil
}
func (m *mockStore) CompletePhase(context.Context, string, *model.PhaseResult) error { return nil }
func (m *mockStore) ListPhases(context.Context, string) ([]model.RunPhase, error)    { return nil, nil }
func (m *mockStore) AddOutput(context.Context, string, model.OutputKind, string, string) (*model.Output, error) {
	return nil, nil
}
func (m *mockStore) ListOutputs(context.Context, string) ([]model.Output, error) { return nil, nil }
func (m *mockStore) Migrate(context.Context) error                               { return nil }
func (m *mockStore) Close() error                                                { return nil }

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func completed(meanRisk float64, valid int, age time.Duration) model.Run {
	return model.Run{
		Status:    model.RunStatusComplete,
		CreatedAt: now.Add(-age),
		Result:    &model.RunResult{Rows: 10, Cols: 10, ValidPixels: valid, MeanRisk: meanRisk},
	}
}

func TestCollector_Collect(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		completed(2, 80, time.Hour),
		completed(4, 60, 2*time.Hour),
		{Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour)},
		{Status: model.RunStatusQueued, CreatedAt: now.Add(-time.Minute)},
		completed(5, 100, 48*time.Hour), // outside the window
	}}
	c := NewCollector(st, clockwork.NewFakeClockAt(now))

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsQueued)
	assert.InDelta(t, 1.0/3.0, snap.RunsFailRate, 1e-9)
	assert.InDelta(t, 3.0, snap.AvgMeanRisk, 1e-9)
	assert.InDelta(t, 4.0, snap.MaxMeanRisk, 1e-9)
	assert.InDelta(t, 0.7, snap.AvgValidRatio, 1e-9)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockStore{}, clockwork.NewFakeClockAt(now)).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunsFailRate)
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(&mockStore{listErr: errors.New("db down")}, nil).Collect(context.Background(), 24)
	assert.Error(t, err)
}

func TestCollector_NoValidPixels(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		completed(2, 80, time.Hour),
		completed(0, 0, 2*time.Hour),
	}}
	snap, err := NewCollector(st, clockwork.NewFakeClockAt(now)).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, snap.AvgMeanRisk, 1e-9, "runs without valid pixels carry no risk")
	assert.InDelta(t, 0.4, snap.AvgValidRatio, 1e-9)
}
