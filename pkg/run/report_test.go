package run

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-batch/pkg/models"
)

func TestFindDownloadPath(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"direct_download:/d/a.zip", "/d/a.zip"},
		{"direct_download_insecure_ssl:/d/b.zip", "/d/b.zip"},
		{"download_saved:/d/c.zip", "/d/c.zip"},
		{"already_acquired:/d/d.zip", "/d/d.zip"},
		{"download_file_detected:name.zip", ""},
		{"manual_button_not_found", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FindDownloadPath(tt.reason), tt.reason)
	}
}

func TestOKDownloadPaths(t *testing.T) {
	report := &models.RunReport{Results: []models.ItemResult{
		{Status: models.StatusOK, Archive: "/d/a.zip"},
		{Status: models.StatusOK, Reason: "download_saved:/d/b.zip"},
		{Status: models.StatusOK, Archive: "/d/a.zip"}, // Exact duplicate
		{Status: models.StatusPartial, Archive: "/d/ignored.zip"},
		{Status: models.StatusOK, Reason: "manual_and_slow_clicked"}, // No path
	}}
	assert.Equal(t, []string{"/d/a.zip", "/d/b.zip"}, OKDownloadPaths(report))
}

func TestWriteReportPair(t *testing.T) {
	dir := t.TempDir()
	report := &models.RunReport{
		RunID:         "20260830-120000",
		CollectionURL: "https://www.nexusmods.com/games/g/collections/c",
		QueueCount:    2,
		Results: []models.ItemResult{
			{Index: 1, Status: models.StatusOK, Reason: "direct_download:/d/a.zip"},
			{Index: 2, Status: models.StatusFallbackNeeded, Reason: "manual_button_not_found"},
		},
		InstallSummary: &models.InstallSummary{Installed: 1, Failed: 0},
	}

	jsonPath, textPath, err := WriteReport(report, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nexus-collection-batch-20260830-120000.json"), jsonPath)

	text, err := os.ReadFile(textPath)
	require.NoError(t, err)
	summary := string(text)
	assert.Contains(t, summary, "run_id: 20260830-120000\n")
	assert.Contains(t, summary, "queue_count: 2\n")
	assert.Contains(t, summary, "ok: 1\n")
	assert.Contains(t, summary, "fallback_needed: 1\n")
	assert.Contains(t, summary, "fail: 0\n")
	assert.Contains(t, summary, "install_ok: 1\n")
	assert.Contains(t, summary, "install_fail: 0\n")
	assert.Contains(t, summary, "json_log: "+jsonPath+"\n")

	// Re-writing after appending a result overwrites in place.
	report.Results = append(report.Results, models.ItemResult{Index: 3, Status: models.StatusFail})
	_, _, err = WriteReport(report, dir)
	require.NoError(t, err)
	text, err = os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "fail: 1\n")
}
