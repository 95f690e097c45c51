package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/browser"
	"nexus-batch/pkg/config"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/nexus"
	"nexus-batch/pkg/utils"
)

// Prioritized click targets. The slow/free control is the one that actually
// starts a transfer; the manual control opens the per-file download page
// where the slow/free control then appears.
var (
	slowDownloadSelectors = []browser.TextSelector{
		{CSS: "button", Text: "Slow download"},
		{CSS: "a", Text: "Slow download"},
		{CSS: "button", Text: "Free download"},
		{CSS: "a", Text: "Free download"},
	}
	manualDownloadSelectors = []browser.TextSelector{
		{CSS: "button", Text: "Manual download"},
		{CSS: "a", Text: "Manual download"},
		{CSS: "button", Text: "Manual"},
		{CSS: "a", Text: "Manual"},
	}
	manualRetrySelectors = []browser.TextSelector{
		{CSS: "a", Text: "click here to download manually"},
		{CSS: "a", Text: "download manually"},
	}
	cookieBannerSelectors = []browser.TextSelector{
		{CSS: "button", Text: "Accept all"},
		{CSS: "button", Text: "Accept"},
		{CSS: "button", Text: "I agree"},
	}
)

// downloadStartedText is the interstitial banner shown when the site hands
// the transfer to the browser instead of firing a download event we can see.
const downloadStartedText = "Your download has started"

const (
	navigationAttempts = 2
	navigationPause    = 1200 * time.Millisecond
	bannerWait         = 2 * time.Second
	completionPoll     = 500 * time.Millisecond
)

// Outcome is the terminal result of resolving one target.
type Outcome struct {
	Status  models.ItemStatus
	Reason  string
	Archive string // Local archive path when one was obtained
}

// Resolver executes the per-target state machine: direct attempt first when
// prerequisites hold, then the click fallback with completion verification.
type Resolver struct {
	session      browser.Session
	direct       *DirectDownloader
	log          *logrus.Entry
	downloadsDir string

	navigationTimeout time.Duration
	clickTimeout      time.Duration
	downloadTimeout   time.Duration
	verify            bool

	pollInterval      time.Duration
	bannerWait        time.Duration
	stabilitySamples  int
	stabilityInterval time.Duration
}

// NewResolver wires a Resolver from the app configuration.
func NewResolver(session browser.Session, direct *DirectDownloader, cfg *config.AppConfig, log *logrus.Entry) *Resolver {
	return &Resolver{
		session:           session,
		direct:            direct,
		log:               log.WithField("component", "resolve"),
		downloadsDir:      cfg.DownloadsDir,
		navigationTimeout: cfg.NavigationTimeout,
		clickTimeout:      cfg.ClickTimeout,
		downloadTimeout:   cfg.DownloadTimeout,
		verify:            cfg.VerifyEnabled(),
		pollInterval:      completionPoll,
		bannerWait:        bannerWait,
		stabilitySamples:  stabilitySamples,
		stabilityInterval: stabilityInterval,
	}
}

// Resolve runs the state machine for one target. It never returns an error:
// every failure mode maps to a terminal status with a diagnostic reason.
func (r *Resolver) Resolve(ctx context.Context, target models.ModTarget, gameID int, dryRun bool) Outcome {
	log := r.log.WithField("target", target.String())
	filesURL := nexus.FilesTabURL(nexus.TargetURL(target))

	if outcome, done := r.tryDirect(ctx, target, gameID, dryRun, log); done {
		return outcome
	}

	if err := r.navigateWithRetry(ctx, filesURL); err != nil {
		return Outcome{Status: models.StatusFail, Reason: fmt.Sprintf("navigation_error: %v", err)}
	}
	// Consent banner is best-effort; absence is the common case.
	browser.ClickFirstVisible(ctx, r.session, cookieBannerSelectors, r.bannerWait)

	if dryRun {
		return Outcome{Status: models.StatusDryRun, Reason: "navigation_only"}
	}

	var baseline map[string]bool
	if r.verify {
		baseline = SnapshotDir(r.downloadsDir)
	}

	// The listener must not outlive this item: cancelling the item context
	// deregisters it on every exit path.
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mailbox := newDownloadMailbox(r.downloadsDir, log)
	stop, err := r.session.ObserveDownloads(itemCtx, r.downloadsDir, mailbox.handle)
	if err != nil {
		log.WithError(err).Warn("Download event listener unavailable, relying on directory polling")
		stop = func() {}
	}
	defer stop()

	if _, clicked := browser.ClickFirstVisible(ctx, r.session, slowDownloadSelectors, r.clickTimeout); !clicked {
		if _, clicked := browser.ClickFirstVisible(ctx, r.session, manualDownloadSelectors, r.clickTimeout); !clicked {
			return Outcome{Status: models.StatusFallbackNeeded, Reason: "manual_button_not_found"}
		}
		if _, clicked := browser.ClickFirstVisible(ctx, r.session, slowDownloadSelectors, r.clickTimeout); !clicked {
			return Outcome{Status: models.StatusPartial, Reason: "download_confirmation_button_not_found"}
		}
	}

	if !r.verify {
		return Outcome{Status: models.StatusOK, Reason: "manual_and_slow_clicked"}
	}
	return r.awaitCompletion(ctx, mailbox, baseline, log)
}

// tryDirect runs the direct path when its prerequisites hold. done is false
// when the click fallback should run instead, whether because prerequisites
// were missing (routing, not an error) or because the direct attempt failed.
func (r *Resolver) tryDirect(ctx context.Context, target models.ModTarget, gameID int, dryRun bool, log *logrus.Entry) (Outcome, bool) {
	if dryRun || !r.verify || gameID <= 0 || !target.HasFileID() {
		return Outcome{}, false
	}
	cookies, err := r.session.Cookies(nexus.SiteBase)
	if err != nil || len(cookies) == 0 {
		log.Debug("No session cookies available, skipping direct path")
		return Outcome{}, false
	}

	archive, insecure, err := r.direct.Fetch(ctx, target, browser.CookieHeader(cookies), gameID, r.downloadsDir)
	if err != nil {
		log.WithError(err).WithField("category", utils.CategorizeError(err)).
			Warn("Direct path failed, falling back to click path")
		return Outcome{}, false
	}

	name := filepath.Base(archive)
	if !IsArchiveName(name) {
		return Outcome{
			Status: models.StatusPartial,
			Reason: "suspicious_download_filename:" + name,
		}, true
	}
	reason := "direct_download:"
	if insecure {
		reason = "direct_download_insecure_ssl:"
	}
	return Outcome{Status: models.StatusOK, Reason: reason + archive, Archive: archive}, true
}

func (r *Resolver) navigateWithRetry(ctx context.Context, url string) error {
	var err error
	for attempt := 1; attempt <= navigationAttempts; attempt++ {
		if err = r.session.Navigate(ctx, url, r.navigationTimeout); err == nil {
			return nil
		}
		if attempt < navigationAttempts {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(navigationPause):
			}
		}
	}
	return err
}

// awaitCompletion polls for a completion signal until the download timeout.
// Priority per round: a listener-saved file, a suspicious event filename, the
// started-interstitial, then a new stable file on disk. One manual-link retry
// is shared between the suspicious and interstitial triggers; a suspicious
// name still present after the retry terminates the item.
func (r *Resolver) awaitCompletion(ctx context.Context, mailbox *downloadMailbox, baseline map[string]bool, log *logrus.Entry) Outcome {
	deadline := time.Now().Add(r.downloadTimeout)
	retryUsed := false
	startedHandled := false
	lastSaveError := ""

	for {
		seen, saved, saveErrors := mailbox.snapshot()
		if len(saveErrors) > 0 {
			lastSaveError = saveErrors[len(saveErrors)-1]
		}

		if len(saved) > 0 {
			archive := saved[0]
			return Outcome{Status: models.StatusOK, Reason: "download_saved:" + archive, Archive: archive}
		}

		// The latest begun download is the one the last click caused. A name
		// without an archive extension is suspicious: one manual-link retry,
		// then terminal partial if the suspicion recurs.
		if len(seen) > 0 {
			if name := seen[len(seen)-1]; !IsArchiveName(name) {
				if retryUsed {
					return Outcome{Status: models.StatusPartial, Reason: "suspicious_download_filename:" + name}
				}
				retryUsed = true
				log.WithField("filename", name).Warn("Suspicious download filename, trying manual link once")
				browser.ClickFirstVisible(ctx, r.session, manualRetrySelectors, r.bannerWait)
			}
		}

		if !startedHandled && browser.HasVisibleText(r.session, downloadStartedText) {
			startedHandled = true
			if !retryUsed {
				retryUsed = true
				log.Info("Download interstitial visible, trying manual link once")
				browser.ClickFirstVisible(ctx, r.session, manualRetrySelectors, r.bannerWait)
			}
		}

		if name, ok := r.findNewStable(ctx, baseline); ok {
			return Outcome{
				Status:  models.StatusOK,
				Reason:  "download_file_detected:" + name,
				Archive: filepath.Join(r.downloadsDir, name),
			}
		}

		if time.Now().After(deadline) {
			if lastSaveError != "" {
				return Outcome{Status: models.StatusPartial, Reason: "download_save_error:" + lastSaveError}
			}
			return Outcome{Status: models.StatusPartial, Reason: "download_signal_not_detected_in_time"}
		}
		select {
		case <-ctx.Done():
			return Outcome{Status: models.StatusPartial, Reason: "download_signal_not_detected_in_time"}
		case <-time.After(r.pollInterval):
		}
	}
}

// findNewStable looks for a file that appeared since the baseline and whose
// size holds across the stability samples.
func (r *Resolver) findNewStable(ctx context.Context, baseline map[string]bool) (string, bool) {
	for _, name := range newCandidates(r.downloadsDir, baseline) {
		if waitStableSize(ctx, filepath.Join(r.downloadsDir, name), r.stabilitySamples, r.stabilityInterval) {
			return name, true
		}
	}
	return "", false
}

// downloadMailbox is the append-only log the download-event listener writes
// and the completion loop reads. Events arrive on the session's event
// goroutine while the loop polls, hence the lock.
type downloadMailbox struct {
	mu         sync.Mutex
	dir        string
	log        *logrus.Entry
	seen       []string
	saved      []string
	saveErrors []string
}

func newDownloadMailbox(dir string, log *logrus.Entry) *downloadMailbox {
	return &downloadMailbox{dir: dir, log: log}
}

func (m *downloadMailbox) handle(ev browser.DownloadEvent) {
	switch ev.State {
	case browser.DownloadBegun:
		name := utils.SanitizeFilename(ev.SuggestedFilename)
		m.mu.Lock()
		m.seen = append(m.seen, name)
		m.mu.Unlock()
		m.log.WithField("filename", name).Debug("Download began")

	case browser.DownloadCompleted:
		// Every completed transfer is saved under a collision-safe name,
		// placeholder names included: a landed file beats any suspicion
		// about what it was called.
		name := utils.SanitizeFilename(ev.SuggestedFilename)
		final := UniquePath(m.dir, name)
		if err := os.Rename(ev.GUIDPath, final); err != nil {
			m.mu.Lock()
			m.saveErrors = append(m.saveErrors, err.Error())
			m.mu.Unlock()
			m.log.WithError(err).WithField("filename", name).Warn("Saving completed download failed")
			return
		}
		m.mu.Lock()
		m.saved = append(m.saved, final)
		m.mu.Unlock()
		m.log.WithField("archive", final).Info("Download saved")
	}
}

func (m *downloadMailbox) snapshot() (seen, saved, saveErrors []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...),
		append([]string(nil), m.saved...),
		append([]string(nil), m.saveErrors...)
}
