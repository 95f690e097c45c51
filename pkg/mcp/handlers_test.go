package mcp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-batch/pkg/models"
)

func TestStatusCounts(t *testing.T) {
	report := &models.RunReport{Results: []models.ItemResult{
		{Status: models.StatusOK},
		{Status: models.StatusOK},
		{Status: models.StatusFallbackNeeded},
		{Status: models.StatusFail},
	}}

	counts := statusCounts(report)
	assert.Equal(t, 2, counts["ok"])
	assert.Equal(t, 1, counts["fallback_needed"])
	assert.Equal(t, 1, counts["fail"])
	assert.Equal(t, 0, counts["partial"])
	assert.Equal(t, 0, counts["dry_run"])
}

func TestRunSummary(t *testing.T) {
	report := &models.RunReport{
		RunID:         "20260830-120000",
		Timestamp:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		CollectionURL: jobCollectionURL,
		QueueCount:    3,
		Interrupted:   true,
		FatalError:    "interrupted",
		InstallSummary: &models.InstallSummary{
			Installed: 1,
			Failed:    0,
		},
	}

	summary := runSummary(report)
	assert.Equal(t, "20260830-120000", summary["run_id"])
	assert.Equal(t, 3, summary["queue_count"])
	assert.Equal(t, true, summary["interrupted"])
	assert.Equal(t, "interrupted", summary["fatal_error"])
	assert.Equal(t, 1, summary["install_ok"])

	// Clean runs omit the failure fields entirely.
	clean := runSummary(&models.RunReport{RunID: "r2"})
	assert.NotContains(t, clean, "fatal_error")
	assert.NotContains(t, clean, "interrupted")
	assert.NotContains(t, clean, "install_ok")
}

func TestFormatJSON(t *testing.T) {
	out := formatJSON(map[string]interface{}{"job_id": "abc", "queue_count": 2})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "abc", decoded["job_id"])
	assert.Equal(t, float64(2), decoded["queue_count"])
}
