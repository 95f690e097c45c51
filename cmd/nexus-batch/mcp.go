package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/browser"
	"nexus-batch/pkg/config"
	"nexus-batch/pkg/mcp"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/run"
	"nexus-batch/pkg/storage"
)

// runMCPServer starts the MCP server. Each run job gets its own browser
// page; the history DB is shared across jobs.
func runMCPServer(configPath, transport string, port int, log *logrus.Logger) int {
	// MCP stdio transport owns stdout; logs must go to stderr.
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("Loading config failed: %v", err)
		return exitUsage
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return exitUsage
	}

	entry := logrus.NewEntry(log)
	history, err := storage.OpenHistory(cfg.StateDir, entry)
	if err != nil {
		log.Errorf("Opening run history DB failed: %v", err)
		return exitFatal
	}
	defer history.Close()

	gcCtx, cancelGC := context.WithCancel(context.Background())
	defer cancelGC()
	go history.StartGC(gcCtx, 10*time.Minute)

	starter := func(ctx context.Context, runCfg *config.AppConfig, opts run.Options) (*models.RunReport, error) {
		candidates := runCfg.BrowserCandidates
		if len(candidates) == 0 {
			candidates = browser.DefaultBrowserCandidates()
		}
		if _, err := browser.EnsureEndpoint(ctx, runCfg.CDPURL, candidates, entry); err != nil {
			return nil, fmt.Errorf("browser session unavailable at %s: %w", runCfg.CDPURL, err)
		}
		session, err := browser.Connect(ctx, runCfg.CDPURL, entry)
		if err != nil {
			return nil, fmt.Errorf("attach page: %w", err)
		}
		defer session.Close()
		return startRun(ctx, runCfg, opts, session, history, entry)
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  cfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		History:    history,
		StartRun:   starter,
	})
	if err != nil {
		log.Errorf("Creating MCP server failed: %v", err)
		return exitFatal
	}

	log.Infof("Starting MCP server (transport: %s)", transport)
	if err := server.Run(); err != nil {
		log.Errorf("MCP server error: %v", err)
		return exitFatal
	}
	return exitOK
}
