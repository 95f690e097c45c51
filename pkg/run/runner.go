package run

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/browser"
	"nexus-batch/pkg/config"
	"nexus-batch/pkg/extract"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/nexus"
	"nexus-batch/pkg/resolve"
	"nexus-batch/pkg/storage"
	"nexus-batch/pkg/utils"
)

// LinkDiscoverer produces the target queue for a collection URL.
type LinkDiscoverer interface {
	Discover(ctx context.Context, collectionURL string) (*models.ExtractionResult, int, error)
}

// TargetResolver resolves one target into a terminal outcome.
type TargetResolver interface {
	Resolve(ctx context.Context, target models.ModTarget, gameID int, dryRun bool) resolve.Outcome
}

// ArchiveInstaller stages downloaded archives into the install directory.
type ArchiveInstaller interface {
	Install(ctx context.Context, archives []string, installDir, logDir, runID string) *models.InstallSummary
}

// HistoryRecorder persists per-target outcomes and run reports. Optional:
// a nil recorder disables resume and history.
type HistoryRecorder interface {
	AlreadyAcquired(target models.ModTarget) (string, bool)
	RecordOutcome(target models.ModTarget, record storage.TargetRecord) error
	SaveRun(report *models.RunReport) error
}

// Options select per-run behavior on top of the static configuration.
type Options struct {
	DryRun bool
	Resume bool // Skip targets already acquired by earlier runs
}

// Runner drives one batch run end to end.
type Runner struct {
	cfg       *config.AppConfig
	session   browser.Session
	extractor LinkDiscoverer
	resolver  TargetResolver
	stager    ArchiveInstaller
	history   HistoryRecorder
	log       *logrus.Entry
}

// NewRunner wires a Runner. history may be nil.
func NewRunner(cfg *config.AppConfig, session browser.Session, extractor LinkDiscoverer,
	resolver TargetResolver, stager ArchiveInstaller, history HistoryRecorder, log *logrus.Entry) *Runner {
	return &Runner{
		cfg:       cfg,
		session:   session,
		extractor: extractor,
		resolver:  resolver,
		stager:    stager,
		history:   history,
		log:       log.WithField("component", "run"),
	}
}

// Run executes the batch. The returned report is always non-nil and already
// persisted; the error marks run-level fatals (invalid input, discovery
// failure) that the exit code must reflect.
func (r *Runner) Run(ctx context.Context, opts Options) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:           NewRunID(),
		Timestamp:       time.Now(),
		CollectionURL:   r.cfg.CollectionURL,
		DownloadsDir:    r.cfg.DownloadsDir,
		InstallDir:      r.cfg.InstallDir,
		CDPURL:          r.cfg.CDPURL,
		DryRun:          opts.DryRun,
		VerifyDownloads: r.cfg.VerifyEnabled(),
		MaxMods:         r.cfg.MaxMods,
		Results:         []models.ItemResult{},
		Extraction:      map[string]map[string]interface{}{},
	}
	log := r.log.WithField("run_id", report.RunID)

	if !nexus.ValidateCollectionURL(r.cfg.CollectionURL) {
		report.FatalError = fmt.Sprintf("invalid collection URL: %s", r.cfg.CollectionURL)
		r.persist(report, log)
		return report, fmt.Errorf("%w: %s", utils.ErrConfigValidation, report.FatalError)
	}

	log.Info("Stage 2/4: collection scan")
	result, gameID, err := r.extractor.Discover(ctx, r.cfg.CollectionURL)
	if err != nil {
		report.FatalError = fmt.Sprintf("link discovery failed: %v", err)
		r.persist(report, log)
		return report, err
	}
	report.GameID = gameID

	diagnostics := map[string]interface{}{"strategy": string(result.Strategy)}
	for k, v := range result.Diagnostics {
		diagnostics[k] = v
	}
	report.Extraction["discovery"] = diagnostics

	links := result.Links
	if r.cfg.MaxMods > 0 && len(links) > r.cfg.MaxMods {
		log.WithFields(logrus.Fields{"discovered": len(links), "cap": r.cfg.MaxMods}).
			Info("Capping queue")
		links = links[:r.cfg.MaxMods]
	}
	report.QueueCount = len(links)
	report.QueueFirst5 = firstN(links, 5)

	if len(links) == 0 {
		log.Warn("Both discovery strategies produced an empty queue, capturing artifacts")
		report.Extraction["artifacts"] = extract.CaptureArtifacts(r.session, r.cfg.LogDir, report.RunID, log)
		r.persist(report, log)
		r.saveHistory(report, log)
		return report, nil
	}

	log.WithField("queue", len(links)).Info("Stage 3/4: downloads")
	r.processQueue(ctx, report, links, gameID, opts, log)

	if !opts.DryRun && !r.cfg.SkipInstall && r.cfg.InstallDir != "" && r.stager != nil {
		if paths := OKDownloadPaths(report); len(paths) > 0 {
			log.WithField("archives", len(paths)).Info("Stage 4/4: install")
			report.InstallSummary = r.stager.Install(ctx, paths, r.cfg.InstallDir, r.cfg.LogDir, report.RunID)
		}
	}

	r.persist(report, log)
	r.saveHistory(report, log)

	log.WithFields(logrus.Fields{
		"queue":           report.QueueCount,
		"ok":              report.CountByStatus(models.StatusOK),
		"partial":         report.CountByStatus(models.StatusPartial),
		"fail":            report.CountByStatus(models.StatusFail),
		"fallback_needed": report.CountByStatus(models.StatusFallbackNeeded),
	}).Info("Run finished")
	return report, nil
}

func (r *Runner) processQueue(ctx context.Context, report *models.RunReport, links []string, gameID int, opts Options, log *logrus.Entry) {
	for i, link := range links {
		if ctx.Err() != nil {
			// Interrupt semantics: finish nothing new, keep everything
			// gathered so far.
			report.Interrupted = true
			report.FatalError = "interrupted"
			log.Warn("Run interrupted, flushing partial results")
			return
		}

		item := r.processItem(ctx, report.RunID, i+1, link, gameID, opts, log)
		report.Results = append(report.Results, item)

		// Incremental flush so a crash mid-queue loses nothing.
		r.persist(report, log)

		if i < len(links)-1 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.DelayBetweenItems):
			}
		}
	}
}

func (r *Runner) processItem(ctx context.Context, runID string, index int, link string, gameID int, opts Options, log *logrus.Entry) models.ItemResult {
	started := time.Now()
	item := models.ItemResult{Index: index, ModURL: link}

	target, ok := nexus.ParseTarget(link)
	if !ok {
		item.Status = models.StatusFail
		item.Reason = "unparseable_target_url"
		return item
	}
	itemLog := log.WithFields(logrus.Fields{"index": index, "target": target.String()})

	if opts.Resume && r.history != nil {
		if archive, acquired := r.history.AlreadyAcquired(target); acquired {
			itemLog.WithField("archive", archive).Info("Target already acquired, skipping")
			item.Status = models.StatusOK
			item.Reason = "already_acquired:" + archive
			item.Archive = archive
			item.Elapsed = time.Since(started).Seconds()
			return item
		}
	}

	itemLog.Info("Resolving target")
	outcome := r.resolver.Resolve(ctx, target, gameID, opts.DryRun)
	item.Status = outcome.Status
	item.Reason = outcome.Reason
	item.Archive = outcome.Archive
	item.Elapsed = time.Since(started).Seconds()

	if item.Archive != "" {
		if hash, err := utils.CalculateFileSHA256(item.Archive); err == nil {
			item.SHA256 = hash
		} else {
			itemLog.WithError(err).Debug("Hashing archive failed")
		}
	}

	itemLog.WithFields(logrus.Fields{
		"status":  item.Status,
		"reason":  item.Reason,
		"elapsed": fmt.Sprintf("%.1fs", item.Elapsed),
	}).Info("Target resolved")

	if r.history != nil {
		if err := r.history.RecordOutcome(target, storage.TargetRecord{
			ModURL:  link,
			Status:  item.Status,
			Reason:  item.Reason,
			Archive: item.Archive,
			RunID:   runID,
		}); err != nil {
			itemLog.WithError(err).Warn("Recording outcome failed")
		}
	}
	return item
}

func (r *Runner) persist(report *models.RunReport, log *logrus.Entry) {
	if _, _, err := WriteReport(report, r.cfg.LogDir); err != nil {
		log.WithError(err).Error("Persisting run report failed")
	}
}

func (r *Runner) saveHistory(report *models.RunReport, log *logrus.Entry) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveRun(report); err != nil {
		log.WithError(err).Warn("Saving run to history failed")
	}
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return append([]string(nil), items...)
	}
	return append([]string(nil), items[:n]...)
}
