// Package resolve turns one mod target into a local archive file, via the
// authenticated direct endpoint when possible and a UI-driven click fallback
// otherwise, with filesystem-level completion verification.
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Download-candidate classification. Temporary extensions mark in-progress
// transfers; an event filename without a recognized archive extension means
// the real archive name never materialized and the transfer needs a second
// look before it can count as acquired.
var (
	archiveExts = map[string]bool{".zip": true, ".7z": true, ".rar": true}
	tempExts    = map[string]bool{".crdownload": true, ".part": true, ".tmp": true}
)

// Stability sampling for fallback completion detection.
const (
	stabilitySamples  = 3
	stabilityInterval = time.Second
)

// uniquePathAttempts bounds the collision-suffix scan.
const uniquePathAttempts = 10000

// IsArchiveName reports whether name carries a recognized archive extension.
func IsArchiveName(name string) bool {
	return archiveExts[strings.ToLower(filepath.Ext(name))]
}

// IsTempName reports whether name carries an in-progress transfer extension.
func IsTempName(name string) bool {
	return tempExts[strings.ToLower(filepath.Ext(name))]
}

// EnsureArchiveExtension appends ".zip" when name has no extension at all.
func EnsureArchiveExtension(name string) string {
	if filepath.Ext(name) == "" {
		return name + ".zip"
	}
	return name
}

// UniquePath returns a path under dir for name that does not collide with an
// existing file, appending " (n)" before the extension when needed. When the
// bounded scan is exhausted the name falls back to a timestamp suffix.
func UniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i < uniquePathAttempts; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, time.Now().Unix(), ext))
}

// SnapshotDir records the filenames currently present in dir. A missing or
// unreadable directory yields an empty baseline.
func SnapshotDir(dir string) map[string]bool {
	baseline := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return baseline
	}
	for _, e := range entries {
		baseline[e.Name()] = true
	}
	return baseline
}

// newCandidates lists files in dir that are absent from baseline and not
// temporary, in directory order.
func newCandidates(dir string, baseline map[string]bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || baseline[e.Name()] || IsTempName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// waitStableSize reports whether the file's size stays unchanged across the
// configured number of samples. A file that disappears mid-sampling (renamed
// away by the browser) is not stable.
func waitStableSize(ctx context.Context, path string, samples int, interval time.Duration) bool {
	var lastSize int64 = -1
	for i := 0; i < samples; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if lastSize >= 0 && info.Size() != lastSize {
			return false
		}
		lastSize = info.Size()
		if i == samples-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return true
}
