package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// launchSettleTimeout bounds how long a freshly started browser gets to bring
// its debugger endpoint up before the launch attempt is written off.
const launchSettleTimeout = 20 * time.Second

// DefaultBrowserCandidates returns the ordered executable paths tried when no
// candidate list is configured.
func DefaultBrowserCandidates() []string {
	candidates := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/usr/bin/brave-browser",
	}
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		candidates = append(candidates,
			localAppData+`\BraveSoftware\Brave-Browser\Application\brave.exe`,
			localAppData+`\Google\Chrome\Application\chrome.exe`,
		)
	}
	candidates = append(candidates,
		`C:\Program Files\BraveSoftware\Brave-Browser\Application\brave.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	)
	return candidates
}

// EnsureEndpoint makes sure a debugger endpoint answers at cdpURL. If the
// probe fails it reports process diagnostics, then walks the candidate
// executables and starts the first one present with remote debugging enabled,
// re-probing until the endpoint settles. The started browser is detached; it
// outlives the run on purpose.
func EnsureEndpoint(ctx context.Context, cdpURL string, candidates []string, log *logrus.Entry) (*VersionInfo, error) {
	if info, err := Probe(ctx, cdpURL, 3*time.Second); err == nil {
		log.WithField("browser", info.Browser).Debug("Debugger endpoint reachable")
		return info, nil
	}

	running, withPort := DiagnoseProcesses(log)
	log.WithFields(logrus.Fields{
		"browsers_running":   running,
		"with_debug_port":    withPort,
		"debugger_candidate": cdpURL,
	}).Warn("Debugger endpoint not reachable, attempting to start a browser")
	if running > 0 && withPort == 0 {
		log.Warn("A browser is running without remote debugging; close it or start it with --remote-debugging-port")
	}

	port, err := debugPort(cdpURL)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		candidates = DefaultBrowserCandidates()
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		log.WithField("executable", path).Info("Starting browser with remote debugging")
		cmd := exec.Command(path,
			fmt.Sprintf("--remote-debugging-port=%s", port),
			"--new-window",
		)
		if err := cmd.Start(); err != nil {
			log.WithError(err).WithField("executable", path).Warn("Browser start failed")
			continue
		}
		// Detach; reaping is the OS's problem once the run ends.
		go func() { _ = cmd.Wait() }()

		if info, err := awaitEndpoint(ctx, cdpURL); err == nil {
			return info, nil
		}
		log.WithField("executable", path).Warn("Browser started but endpoint never settled")
	}

	return nil, fmt.Errorf("no debugger endpoint at %s and no startable browser found", cdpURL)
}

func awaitEndpoint(ctx context.Context, cdpURL string) (*VersionInfo, error) {
	deadline := time.Now().Add(launchSettleTimeout)
	for {
		if info, err := Probe(ctx, cdpURL, 2*time.Second); err == nil {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("endpoint at %s did not settle within %s", cdpURL, launchSettleTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(750 * time.Millisecond):
		}
	}
}

func debugPort(cdpURL string) (string, error) {
	parsed, err := url.Parse(cdpURL)
	if err != nil {
		return "", fmt.Errorf("parse debugger URL %s: %w", cdpURL, err)
	}
	if port := parsed.Port(); port != "" {
		return port, nil
	}
	return "9222", nil
}
