package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// VersionInfo is the subset of the debugger's /json/version answer worth
// reporting.
type VersionInfo struct {
	Browser   string `json:"Browser"`
	WebSocket string `json:"webSocketDebuggerUrl"`
}

// Probe checks whether a DevTools endpoint answers at cdpURL. A reachable
// endpoint returns its version info.
func Probe(ctx context.Context, cdpURL string, timeout time.Duration) (*VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(cdpURL, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("debugger endpoint unreachable at %s: %w", cdpURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("debugger endpoint at %s answered %d", cdpURL, resp.StatusCode)
	}

	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode version info from %s: %w", cdpURL, err)
	}
	return &info, nil
}

// browserProcessNames are executable names counted as driveable browsers.
var browserProcessNames = []string{"chrome", "chromium", "brave", "msedge", "vivaldi"}

// DiagnoseProcesses inspects running processes when the endpoint probe fails,
// so the operator learns whether a browser is up without the debugging port
// versus not up at all. Best effort: process enumeration can fail under
// restricted permissions, in which case the counts stay zero.
func DiagnoseProcesses(log *logrus.Entry) (running int, withDebugPort int) {
	procs, err := process.Processes()
	if err != nil {
		log.WithError(err).Debug("Process enumeration failed")
		return 0, 0
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		lower := strings.ToLower(name)
		matched := false
		for _, candidate := range browserProcessNames {
			if strings.Contains(lower, candidate) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		running++
		if cmdline, err := p.Cmdline(); err == nil &&
			strings.Contains(cmdline, "--remote-debugging-port") {
			withDebugPort++
		}
	}
	return running, withDebugPort
}
