package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nexus-batch/pkg/browser"
)

// CaptureArtifacts saves a screenshot, the rendered HTML, and a small meta
// document for a run whose discovery produced an empty queue. Each artifact
// is attempted independently; a failure records an "<artifact>_error" key
// instead of suppressing the others. The returned map goes verbatim into the
// run report.
func CaptureArtifacts(session browser.Session, dir, runID string, log *logrus.Entry) map[string]interface{} {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return map[string]interface{}{"artifacts_error": err.Error()}
	}

	var mu sync.Mutex
	artifacts := make(map[string]interface{})
	record := func(key string, value interface{}) {
		mu.Lock()
		artifacts[key] = value
		mu.Unlock()
	}

	prefix := filepath.Join(dir, fmt.Sprintf("collection_debug_%s", runID))

	var g errgroup.Group
	g.Go(func() error {
		shot, err := session.Screenshot(true)
		if err != nil {
			record("screenshot_error", err.Error())
			return nil
		}
		path := prefix + ".png"
		if err := os.WriteFile(path, shot, 0644); err != nil {
			record("screenshot_error", err.Error())
			return nil
		}
		record("screenshot", path)
		return nil
	})
	g.Go(func() error {
		html, err := session.HTML()
		if err != nil {
			record("html_error", err.Error())
			return nil
		}
		path := prefix + ".html"
		if err := os.WriteFile(path, []byte(html), 0644); err != nil {
			record("html_error", err.Error())
			return nil
		}
		record("html", path)
		return nil
	})
	g.Go(func() error {
		pageURL, title, err := session.Info()
		if err != nil {
			record("meta_error", err.Error())
			return nil
		}
		meta, err := json.MarshalIndent(map[string]string{
			"url":       pageURL,
			"title":     title,
			"timestamp": time.Now().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			record("meta_error", err.Error())
			return nil
		}
		path := prefix + ".json"
		if err := os.WriteFile(path, meta, 0644); err != nil {
			record("meta_error", err.Error())
			return nil
		}
		record("meta", path)
		return nil
	})
	_ = g.Wait()

	log.WithField("dir", dir).Info("Saved empty-queue debug artifacts")
	return artifacts
}
