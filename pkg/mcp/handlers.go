package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"nexus-batch/pkg/models"
	"nexus-batch/pkg/nexus"
	"nexus-batch/pkg/run"
)

// handleStartRun handles the start_run tool
func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collectionURL := request.GetString("collection_url", s.cfg.AppConfig.CollectionURL)
	if collectionURL == "" {
		return mcp.NewToolResultError("collection_url parameter is required (no collection configured)"), nil
	}
	if !nexus.ValidateCollectionURL(collectionURL) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid collection URL: %s", collectionURL)), nil
	}

	dryRun := request.GetBool("dry_run", false)
	resume := request.GetBool("resume", false)
	maxMods := request.GetInt("max_mods", s.cfg.AppConfig.MaxMods)
	if maxMods < 0 {
		maxMods = 0
	}

	job, created := s.jobManager.CreateJob(collectionURL, dryRun)
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A batch run is already in progress; the browser session handles one run at a time",
			"job_id":  job.ID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	// Per-job config copy so overrides never leak into later runs.
	runCfg := *s.cfg.AppConfig
	runCfg.CollectionURL = collectionURL
	runCfg.MaxMods = maxMods

	jobCtx := s.jobManager.GetContext(job.ID)
	jobLog := s.log.WithField("job_id", job.ID)

	go func() {
		s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")
		jobLog.WithField("collection_url", collectionURL).Info("Batch run job started")

		report, err := s.cfg.StartRun(jobCtx, &runCfg, run.Options{DryRun: dryRun, Resume: resume})
		s.jobManager.AttachReport(job.ID, report)

		switch {
		case err != nil:
			jobLog.WithError(err).Error("Batch run job failed")
			s.jobManager.UpdateStatus(job.ID, JobStatusFailed, err.Error())
		case report != nil && report.Interrupted:
			jobLog.Warn("Batch run job cancelled")
			s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
		default:
			jobLog.Info("Batch run job completed")
			s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, "")
		}
	}()

	result := map[string]interface{}{
		"status":         "started",
		"job_id":         job.ID,
		"collection_url": collectionURL,
		"dry_run":        dryRun,
		"resume":         resume,
		"message":        "Run started in background. Use run_status with this job_id to poll progress.",
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRunStatus handles the run_status tool
func (s *Server) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":         job.ID,
		"status":         string(job.Status),
		"collection_url": job.CollectionURL,
		"dry_run":        job.DryRun,
		"started_at":     job.StartedAt.Format(time.RFC3339),
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["elapsed_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error"] = job.ErrorMessage
	}

	if report := s.jobManager.Report(jobID); report != nil {
		result["run_id"] = report.RunID
		result["queue_count"] = report.QueueCount
		result["counts"] = statusCounts(report)
		if report.FatalError != "" {
			result["fatal_error"] = report.FatalError
		}
		if report.InstallSummary != nil {
			result["install_ok"] = report.InstallSummary.Installed
			result["install_fail"] = report.InstallSummary.Failed
		}
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelRun handles the cancel_run tool
func (s *Server) handleCancelRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	if !s.jobManager.CancelJob(jobID) {
		job := s.jobManager.GetJob(jobID)
		if job == nil {
			return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' is already %s", jobID, job.Status)), nil
	}

	result := map[string]interface{}{
		"status":  "cancelling",
		"job_id":  jobID,
		"message": "Cancellation requested. The item in flight finishes, then partial results are flushed.",
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListRuns handles the list_runs tool
func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	// Prefer the persistent history when available; otherwise fall back to
	// this process's job list.
	if s.cfg.History != nil {
		reports, err := s.cfg.History.ListRuns(limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
		}
		runs := make([]map[string]interface{}, 0, len(reports))
		for _, report := range reports {
			runs = append(runs, runSummary(report))
		}
		result := map[string]interface{}{
			"runs":       runs,
			"total_runs": len(runs),
			"source":     "history",
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	jobs := s.jobManager.ListJobs()
	runs := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		entry := map[string]interface{}{
			"job_id":         job.ID,
			"status":         string(job.Status),
			"collection_url": job.CollectionURL,
			"started_at":     job.StartedAt.Format(time.RFC3339),
		}
		if job.RunID != "" {
			entry["run_id"] = job.RunID
		}
		runs = append(runs, entry)
	}
	result := map[string]interface{}{
		"runs":       runs,
		"total_runs": len(runs),
		"source":     "jobs",
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runSummary renders a compact view of a persisted run report
func runSummary(report *models.RunReport) map[string]interface{} {
	summary := map[string]interface{}{
		"run_id":         report.RunID,
		"timestamp":      report.Timestamp.Format(time.RFC3339),
		"collection_url": report.CollectionURL,
		"queue_count":    report.QueueCount,
		"counts":         statusCounts(report),
		"dry_run":        report.DryRun,
	}
	if report.FatalError != "" {
		summary["fatal_error"] = report.FatalError
	}
	if report.Interrupted {
		summary["interrupted"] = true
	}
	if report.InstallSummary != nil {
		summary["install_ok"] = report.InstallSummary.Installed
		summary["install_fail"] = report.InstallSummary.Failed
	}
	return summary
}

// statusCounts tallies item results by terminal status
func statusCounts(report *models.RunReport) map[string]int {
	return map[string]int{
		"ok":              report.CountByStatus(models.StatusOK),
		"partial":         report.CountByStatus(models.StatusPartial),
		"fail":            report.CountByStatus(models.StatusFail),
		"fallback_needed": report.CountByStatus(models.StatusFallbackNeeded),
		"dry_run":         report.CountByStatus(models.StatusDryRun),
	}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v", err)
	}
	return string(bytes)
}
