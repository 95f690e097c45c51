package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-batch/pkg/browser"
	"nexus-batch/pkg/config"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/resolve"
	"nexus-batch/pkg/storage"
)

const testCollectionURL = "https://www.nexusmods.com/games/g/collections/c1"

type fakeDiscoverer struct {
	result *models.ExtractionResult
	gameID int
	err    error
}

func (f *fakeDiscoverer) Discover(ctx context.Context, url string) (*models.ExtractionResult, int, error) {
	return f.result, f.gameID, f.err
}

type fakeResolver struct {
	outcomes map[string]resolve.Outcome // keyed by target string
	resolved []models.ModTarget
}

func (f *fakeResolver) Resolve(ctx context.Context, target models.ModTarget, gameID int, dryRun bool) resolve.Outcome {
	f.resolved = append(f.resolved, target)
	if outcome, ok := f.outcomes[target.String()]; ok {
		return outcome
	}
	return resolve.Outcome{Status: models.StatusFail, Reason: "navigation_error: unscripted target"}
}

type fakeInstaller struct {
	archives []string
	summary  *models.InstallSummary
}

func (f *fakeInstaller) Install(ctx context.Context, archives []string, installDir, logDir, runID string) *models.InstallSummary {
	f.archives = archives
	if f.summary == nil {
		f.summary = &models.InstallSummary{Installed: len(archives)}
	}
	return f.summary
}

type fakeHistory struct {
	acquired map[string]string // target string -> archive path
	recorded []storage.TargetRecord
	saved    []*models.RunReport
}

func (f *fakeHistory) AlreadyAcquired(target models.ModTarget) (string, bool) {
	path, ok := f.acquired[target.String()]
	return path, ok
}
func (f *fakeHistory) RecordOutcome(target models.ModTarget, record storage.TargetRecord) error {
	f.recorded = append(f.recorded, record)
	return nil
}
func (f *fakeHistory) SaveRun(report *models.RunReport) error {
	f.saved = append(f.saved, report)
	return nil
}

// artifactSession only needs the artifact-capture capabilities.
type artifactSession struct{}

func (artifactSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return nil
}
func (artifactSession) Eval(js string) error             { return nil }
func (artifactSession) EvalBool(js string) (bool, error) { return false, nil }
func (artifactSession) Elements(css string) ([]browser.Element, error) {
	return nil, nil
}
func (artifactSession) ObserveResponses(ctx context.Context, fn func(browser.NetworkResponse)) (func(), error) {
	return func() {}, nil
}
func (artifactSession) ObserveDownloads(ctx context.Context, dir string, fn func(browser.DownloadEvent)) (func(), error) {
	return func() {}, nil
}
func (artifactSession) Cookies(urls ...string) ([]browser.Cookie, error) { return nil, nil }
func (artifactSession) HTML() (string, error)                            { return "<html/>", nil }
func (artifactSession) Screenshot(fullPage bool) ([]byte, error)         { return []byte{1}, nil }
func (artifactSession) Info() (string, string, error)                    { return "u", "t", nil }
func (artifactSession) Close() error                                     { return nil }

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.AppConfig{
		CollectionURL:     testCollectionURL,
		DownloadsDir:      filepath.Join(dir, "downloads"),
		InstallDir:        filepath.Join(dir, "install"),
		LogDir:            filepath.Join(dir, "logs"),
		DelayBetweenItems: time.Millisecond,
	}
}

func runnerTestLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(log)
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	archive := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0644))

	discoverer := &fakeDiscoverer{
		result: &models.ExtractionResult{
			Strategy: models.StrategyNetwork,
			Links: []string{
				"https://www.nexusmods.com/g/mods/10",
				"https://www.nexusmods.com/g/mods/20?tab=files&file_id=5",
			},
			Diagnostics: map[string]interface{}{"relevant_responses": 1},
		},
		gameID: 1704,
	}
	resolver := &fakeResolver{outcomes: map[string]resolve.Outcome{
		"g/10":          {Status: models.StatusOK, Reason: "direct_download:" + archive, Archive: archive},
		"g/20 (file 5)": {Status: models.StatusFallbackNeeded, Reason: "manual_button_not_found"},
	}}
	installer := &fakeInstaller{}
	history := &fakeHistory{}

	runner := NewRunner(cfg, artifactSession{}, discoverer, resolver, installer, history, runnerTestLog())
	report, err := runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.QueueCount)
	require.Len(t, report.Results, 2)
	assert.Equal(t, models.StatusOK, report.Results[0].Status)
	assert.NotEmpty(t, report.Results[0].SHA256)
	assert.Equal(t, models.StatusFallbackNeeded, report.Results[1].Status)
	assert.Equal(t, 1704, report.GameID)

	// Install handoff got exactly the ok archive.
	assert.Equal(t, []string{archive}, installer.archives)
	require.NotNil(t, report.InstallSummary)

	// Outcomes recorded and run saved to history.
	assert.Len(t, history.recorded, 2)
	assert.Len(t, history.saved, 1)

	// Persisted text summary reflects the status tallies.
	_, textPath := ReportPaths(cfg.LogDir, report.RunID)
	text, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "ok: 1\n")
	assert.Contains(t, string(text), "fallback_needed: 1\n")
	assert.Contains(t, string(text), "fail: 0\n")
}

func TestRunZeroQueueCapturesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	discoverer := &fakeDiscoverer{
		result: &models.ExtractionResult{
			Strategy:    models.StrategyDOMFallback,
			Diagnostics: map[string]interface{}{},
		},
	}
	installer := &fakeInstaller{}

	runner := NewRunner(cfg, artifactSession{}, discoverer, &fakeResolver{}, installer, nil, runnerTestLog())
	report, err := runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.QueueCount)
	artifacts := report.Extraction["artifacts"]
	require.NotNil(t, artifacts)
	for _, key := range []string{"screenshot", "html", "meta"} {
		assert.Contains(t, artifacts, key)
	}
	assert.Nil(t, installer.archives, "no install handoff for an empty queue")
}

func TestRunInvalidCollectionURLIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.CollectionURL = "https://example.com/not-a-collection"

	runner := NewRunner(cfg, artifactSession{}, &fakeDiscoverer{}, &fakeResolver{}, nil, nil, runnerTestLog())
	report, err := runner.Run(context.Background(), Options{})
	assert.Error(t, err)
	assert.Contains(t, report.FatalError, "invalid collection URL")
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	runner := NewRunner(cfg, artifactSession{}, &fakeDiscoverer{err: errors.New("browser gone")},
		&fakeResolver{}, nil, nil, runnerTestLog())
	report, err := runner.Run(context.Background(), Options{})
	assert.Error(t, err)
	assert.Contains(t, report.FatalError, "link discovery failed")

	// The log pair still exists for the failed run.
	jsonPath, _ := ReportPaths(cfg.LogDir, report.RunID)
	assert.FileExists(t, jsonPath)
}

func TestRunMaxModsCapsQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMods = 1
	discoverer := &fakeDiscoverer{result: &models.ExtractionResult{
		Strategy: models.StrategyNetwork,
		Links: []string{
			"https://www.nexusmods.com/g/mods/10",
			"https://www.nexusmods.com/g/mods/20",
		},
		Diagnostics: map[string]interface{}{},
	}}
	resolver := &fakeResolver{outcomes: map[string]resolve.Outcome{
		"g/10": {Status: models.StatusOK, Reason: "manual_and_slow_clicked"},
	}}

	runner := NewRunner(cfg, artifactSession{}, discoverer, resolver, nil, nil, runnerTestLog())
	report, err := runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.QueueCount)
	assert.Len(t, resolver.resolved, 1)
}

func TestRunResumeSkipsAcquiredTargets(t *testing.T) {
	cfg := testConfig(t)
	archive := filepath.Join(t.TempDir(), "have.zip")
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0644))

	discoverer := &fakeDiscoverer{result: &models.ExtractionResult{
		Strategy:    models.StrategyNetwork,
		Links:       []string{"https://www.nexusmods.com/g/mods/10"},
		Diagnostics: map[string]interface{}{},
	}}
	resolver := &fakeResolver{}
	history := &fakeHistory{acquired: map[string]string{"g/10": archive}}

	runner := NewRunner(cfg, artifactSession{}, discoverer, resolver, nil, history, runnerTestLog())
	report, err := runner.Run(context.Background(), Options{Resume: true})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, models.StatusOK, report.Results[0].Status)
	assert.Equal(t, "already_acquired:"+archive, report.Results[0].Reason)
	assert.Empty(t, resolver.resolved, "acquired targets are never re-resolved")
}

func TestRunInterruptFlushesPartialResults(t *testing.T) {
	cfg := testConfig(t)
	discoverer := &fakeDiscoverer{result: &models.ExtractionResult{
		Strategy: models.StrategyNetwork,
		Links: []string{
			"https://www.nexusmods.com/g/mods/10",
			"https://www.nexusmods.com/g/mods/20",
		},
		Diagnostics: map[string]interface{}{},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	resolver := &fakeResolver{outcomes: map[string]resolve.Outcome{}}
	resolver.outcomes["g/10"] = resolve.Outcome{Status: models.StatusOK, Reason: "manual_and_slow_clicked"}
	// Cancel while the first item resolves; the second must not start.
	wrapped := &cancellingResolver{inner: resolver, cancel: cancel}

	runner := NewRunner(cfg, artifactSession{}, discoverer, wrapped, nil, nil, runnerTestLog())
	report, err := runner.Run(ctx, Options{})
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, "interrupted", report.FatalError)
	assert.Len(t, report.Results, 1, "results gathered before the interrupt are kept")

	jsonPath, _ := ReportPaths(cfg.LogDir, report.RunID)
	assert.FileExists(t, jsonPath)
}

type cancellingResolver struct {
	inner  *fakeResolver
	cancel context.CancelFunc
}

func (c *cancellingResolver) Resolve(ctx context.Context, target models.ModTarget, gameID int, dryRun bool) resolve.Outcome {
	outcome := c.inner.Resolve(ctx, target, gameID, dryRun)
	c.cancel()
	return outcome
}
