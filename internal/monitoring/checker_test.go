package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/config"
)

func TestChecker_TicksAndStops(t *testing.T) {
	st := &mockStore{}
	clock := clockwork.NewFakeClockAt(now)
	cfg := config.MonitoringConfig{CheckIntervalSecs: 60, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(st, clock), NewAlerter(cfg, nil), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return st.listCount() >= 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	st := &mockStore{}
	checker := NewChecker(NewCollector(st, nil), NewAlerter(config.MonitoringConfig{}, nil), config.MonitoringConfig{})
	require.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
