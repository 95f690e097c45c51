// Package run orchestrates a whole batch: discovery, sequential resolution,
// install handoff, and run-report persistence.
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nexus-batch/pkg/models"
)

// downloadReasonPrefixes are the reason forms that embed a resolved archive
// path. Older reports carry the path only there, not in the Archive field.
var downloadReasonPrefixes = []string{
	"direct_download:",
	"direct_download_insecure_ssl:",
	"download_saved:",
	"already_acquired:",
}

// NewRunID returns a sortable timestamp-based run identifier.
func NewRunID() string {
	return time.Now().Format("20060102-150405")
}

// ReportPaths returns the JSON and text log paths for a run.
func ReportPaths(logDir, runID string) (jsonPath, textPath string) {
	base := filepath.Join(logDir, "nexus-collection-batch-"+runID)
	return base + ".json", base + ".txt"
}

// WriteReport persists the report as its JSON/text log pair. Called after
// every item so an aborted run still leaves a usable log.
func WriteReport(report *models.RunReport, logDir string) (jsonPath, textPath string, err error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", "", fmt.Errorf("create log directory %s: %w", logDir, err)
	}
	jsonPath, textPath = ReportPaths(logDir, report.RunID)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(textPath, []byte(textSummary(report, jsonPath)), 0644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", textPath, err)
	}
	return jsonPath, textPath, nil
}

// textSummary renders the fixed-field human-readable summary.
func textSummary(report *models.RunReport, jsonPath string) string {
	installOK, installFail := 0, 0
	if report.InstallSummary != nil {
		installOK = report.InstallSummary.Installed
		installFail = report.InstallSummary.Failed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run_id: %s\n", report.RunID)
	fmt.Fprintf(&b, "collection_url: %s\n", report.CollectionURL)
	fmt.Fprintf(&b, "queue_count: %d\n", report.QueueCount)
	fmt.Fprintf(&b, "ok: %d\n", report.CountByStatus(models.StatusOK))
	fmt.Fprintf(&b, "partial: %d\n", report.CountByStatus(models.StatusPartial))
	fmt.Fprintf(&b, "fail: %d\n", report.CountByStatus(models.StatusFail))
	fmt.Fprintf(&b, "fallback_needed: %d\n", report.CountByStatus(models.StatusFallbackNeeded))
	fmt.Fprintf(&b, "dry_run: %d\n", report.CountByStatus(models.StatusDryRun))
	fmt.Fprintf(&b, "install_ok: %d\n", installOK)
	fmt.Fprintf(&b, "install_fail: %d\n", installFail)
	fmt.Fprintf(&b, "json_log: %s\n", jsonPath)
	if report.FatalError != "" {
		fmt.Fprintf(&b, "fatal_error: %s\n", report.FatalError)
	}
	return b.String()
}

// FindDownloadPath extracts the archive path embedded in a reason string, or
// "" when the reason carries none.
func FindDownloadPath(reason string) string {
	for _, prefix := range downloadReasonPrefixes {
		if strings.HasPrefix(reason, prefix) {
			return strings.TrimPrefix(reason, prefix)
		}
	}
	return ""
}

// OKDownloadPaths collects the archive paths of ok results in encounter
// order, with exact duplicates removed.
func OKDownloadPaths(report *models.RunReport) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, result := range report.Results {
		if result.Status != models.StatusOK {
			continue
		}
		path := result.Archive
		if path == "" {
			path = FindDownloadPath(result.Reason)
		}
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}
