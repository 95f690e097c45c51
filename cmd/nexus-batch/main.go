package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/browser"
	"nexus-batch/pkg/config"
	"nexus-batch/pkg/extract"
	"nexus-batch/pkg/install"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/nexus"
	"nexus-batch/pkg/resolve"
	"nexus-batch/pkg/run"
	"nexus-batch/pkg/storage"
)

const (
	exitOK        = 0
	exitFatal     = 1
	exitUsage     = 2
	exitInterrupt = 130
)

func main() {
	// --- Early Initialization & Flags ---
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel) // Default level

	configFileFlag := flag.String("config", "nexus-batch.yaml", "Path to YAML config file")
	collectionURLFlag := flag.String("collection-url", "", "Collection page URL (overrides config)")
	downloadsDirFlag := flag.String("downloads-dir", "", "Directory the browser downloads into (overrides config)")
	installDirFlag := flag.String("install-dir", "", "Directory extracted mods are merged into (overrides config)")
	cdpURLFlag := flag.String("cdp-url", "", "DevTools endpoint URL (overrides config)")
	logDirFlag := flag.String("log-dir", "", "Directory for run logs and artifacts (overrides config)")
	stateDirFlag := flag.String("state-dir", "", "Directory for the run history DB (overrides config)")
	maxModsFlag := flag.Int("max-mods", -1, "Cap the queue at this many mods (0 = no cap)")
	dryRunFlag := flag.Bool("dry-run", false, "Navigate each mod page without downloading")
	noVerifyFlag := flag.Bool("no-verify-downloads", false, "Skip download completion verification")
	skipInstallFlag := flag.Bool("skip-install", false, "Skip the install stage")
	resumeFlag := flag.Bool("resume", false, "Skip targets already acquired by earlier runs")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	mcpFlag := flag.Bool("mcp", false, "Run as an MCP server instead of a one-shot batch")
	transportFlag := flag.String("transport", "stdio", "MCP transport (stdio, sse)")
	portFlag := flag.Int("port", 8080, "HTTP port for the sse transport")
	flag.Parse()

	// --- Logger Configuration ---
	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	if *mcpFlag {
		os.Exit(runMCPServer(*configFileFlag, *transportFlag, *portFlag, log))
	}

	// --- Load & Overlay Configuration ---
	cfg, err := config.Load(*configFileFlag)
	if err != nil {
		log.Errorf("Loading config failed: %v", err)
		os.Exit(exitUsage)
	}
	if *collectionURLFlag != "" {
		cfg.CollectionURL = nexus.CleanCollectionURL(*collectionURLFlag)
	}
	if *downloadsDirFlag != "" {
		cfg.DownloadsDir = *downloadsDirFlag
	}
	if *installDirFlag != "" {
		cfg.InstallDir = *installDirFlag
	}
	if *cdpURLFlag != "" {
		cfg.CDPURL = *cdpURLFlag
	}
	if *logDirFlag != "" {
		cfg.LogDir = *logDirFlag
	}
	if *stateDirFlag != "" {
		cfg.StateDir = *stateDirFlag
	}
	if *maxModsFlag >= 0 {
		cfg.MaxMods = *maxModsFlag
	}
	if *noVerifyFlag {
		verify := false
		cfg.VerifyDownloads = &verify
	}
	if *skipInstallFlag {
		cfg.SkipInstall = true
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		os.Exit(exitUsage)
	}

	if cfg.CollectionURL == "" {
		log.Error("No collection URL. Pass -collection-url or set collection_url in the config file.")
		os.Exit(exitUsage)
	}
	if !nexus.ValidateCollectionURL(cfg.CollectionURL) {
		log.Errorf("Invalid collection URL: %s", cfg.CollectionURL)
		os.Exit(exitUsage)
	}

	// Persist the resolved answers so the next run can omit the flags.
	if err := cfg.Save(*configFileFlag); err != nil {
		log.Warnf("Saving config back to %s failed: %v", *configFileFlag, err)
	}

	// --- Global Context & Signal Handling ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Finishing the item in flight, then flushing...", sig)
		cancel()
		sig = <-sigChan
		log.Warnf("Received second signal: %v. Forcing exit.", sig)
		os.Exit(exitInterrupt)
	}()

	// --- Stage 1: Browser Session ---
	log.Info("Stage 1/4: browser session")
	entry := logrus.NewEntry(log)
	candidates := cfg.BrowserCandidates
	if len(candidates) == 0 {
		candidates = browser.DefaultBrowserCandidates()
	}
	version, err := browser.EnsureEndpoint(ctx, cfg.CDPURL, candidates, entry)
	if err != nil {
		log.Errorf("No reachable browser session at %s: %v", cfg.CDPURL, err)
		log.Error("Start your browser with --remote-debugging-port and log in to Nexus Mods first.")
		os.Exit(exitFatal)
	}
	log.Infof("Connected to %s", version.Browser)

	session, err := browser.Connect(ctx, cfg.CDPURL, entry)
	if err != nil {
		log.Errorf("Attaching a page to the browser failed: %v", err)
		os.Exit(exitFatal)
	}
	defer session.Close()

	// --- Run History ---
	history, err := storage.OpenHistory(cfg.StateDir, entry)
	if err != nil {
		log.Errorf("Opening run history DB failed: %v", err)
		os.Exit(exitFatal)
	}
	defer history.Close()
	go history.StartGC(ctx, 10*time.Minute)

	// --- Stages 2-4 ---
	report, err := startRun(ctx, cfg, run.Options{DryRun: *dryRunFlag, Resume: *resumeFlag},
		session, history, entry)

	printSummary(report, log)
	os.Exit(exitCode(report, err))
}

// startRun wires the per-run pipeline onto a shared session and history and
// executes it. Also used by the MCP server, with a fresh session per job.
func startRun(ctx context.Context, cfg *config.AppConfig, opts run.Options,
	session browser.Session, history *storage.HistoryStore, log *logrus.Entry) (*models.RunReport, error) {
	extractor := extract.New(session, cfg.CollectionTimeout, cfg.SettleWait, log)
	direct := resolve.NewDirectDownloader(cfg, log)
	resolver := resolve.NewResolver(session, direct, cfg, log)
	stager := install.NewStager(log)
	runner := run.NewRunner(cfg, session, extractor, resolver, stager, history, log)
	return runner.Run(ctx, opts)
}

func printSummary(report *models.RunReport, log *logrus.Logger) {
	if report == nil {
		return
	}
	log.Infof("Run %s: queue=%d ok=%d partial=%d fail=%d fallback_needed=%d dry_run=%d",
		report.RunID, report.QueueCount,
		report.CountByStatus(models.StatusOK),
		report.CountByStatus(models.StatusPartial),
		report.CountByStatus(models.StatusFail),
		report.CountByStatus(models.StatusFallbackNeeded),
		report.CountByStatus(models.StatusDryRun))
	if report.InstallSummary != nil {
		log.Infof("Install: ok=%d fail=%d dir=%s",
			report.InstallSummary.Installed, report.InstallSummary.Failed, report.InstallSummary.InstallDir)
	}
	if report.FatalError != "" {
		log.Warnf("Fatal: %s", report.FatalError)
	}
}

func exitCode(report *models.RunReport, err error) int {
	if report != nil && report.Interrupted {
		return exitInterrupt
	}
	if err != nil {
		return exitFatal
	}
	if report != nil && report.FatalError != "" {
		return exitFatal
	}
	return exitOK
}
