package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusQueued, "queued"},
		{RunStatusLoading, "loading"},
		{RunStatusAligning, "aligning"},
		{RunStatusScoring, "scoring"},
		{RunStatusExporting, "exporting"},
		{RunStatusComplete, "complete"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestRun_JSONOmitsGeometry(t *testing.T) {
	t.Parallel()

	r := Run{ID: "r1", Reference: "NDVI", AOIWKB: []byte{1, 2, 3}, Status: RunStatusComplete}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "AOIWKB")
	assert.Contains(t, string(data), `"reference":"NDVI"`)
	assert.NotContains(t, string(data), `"result"`)
}
