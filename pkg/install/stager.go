// Package install stages downloaded archives into the target install
// directory: each archive is extracted into its own stage folder, then the
// extracted tree is merged file-by-file into the install directory.
package install

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/models"
)

// Stager extracts and merges archives. Zip archives are handled natively;
// everything else goes through an external 7-Zip binary when one is on PATH.
type Stager struct {
	log *logrus.Entry

	// sevenZipPath locates the external extractor; injected so tests control
	// tool availability.
	sevenZipPath func() string
}

// NewStager builds a Stager with PATH-based 7-Zip discovery.
func NewStager(log *logrus.Entry) *Stager {
	return &Stager{
		log: log.WithField("component", "install"),
		sevenZipPath: func() string {
			for _, name := range []string{"7z", "7za"} {
				if path, err := exec.LookPath(name); err == nil {
					return path
				}
			}
			return ""
		},
	}
}

// Install processes the archives in order, deduplicated by exact path, and
// returns the aggregate summary. A failed archive never aborts the rest. The
// summary is also written as a JSON document under logDir.
func (s *Stager) Install(ctx context.Context, archives []string, installDir, logDir, runID string) *models.InstallSummary {
	stageRoot := filepath.Join(logDir, fmt.Sprintf("nexus-collection-batch-install-%s", runID))
	summary := &models.InstallSummary{
		StageDir:   stageRoot,
		InstallDir: installDir,
	}

	if err := os.MkdirAll(installDir, 0755); err != nil {
		s.log.WithError(err).Error("Creating install directory failed")
		summary.Results = append(summary.Results, models.InstallItemResult{
			Status: "failed", Reason: "install_dir_unwritable:" + err.Error(),
		})
		summary.Failed = len(archives)
		return summary
	}
	if err := os.MkdirAll(stageRoot, 0755); err != nil {
		s.log.WithError(err).Error("Creating stage directory failed")
		summary.Results = append(summary.Results, models.InstallItemResult{
			Status: "failed", Reason: "stage_dir_unwritable:" + err.Error(),
		})
		summary.Failed = len(archives)
		return summary
	}

	seen := make(map[string]bool, len(archives))
	for _, archive := range archives {
		if seen[archive] {
			continue
		}
		seen[archive] = true

		item := s.installOne(ctx, archive, stageRoot, installDir)
		if item.Status == "installed" {
			summary.Installed++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, item)
	}

	s.writeLog(summary, logDir, runID)
	s.log.WithFields(logrus.Fields{
		"installed": summary.Installed,
		"failed":    summary.Failed,
	}).Info("Install staging finished")
	return summary
}

func (s *Stager) installOne(ctx context.Context, archive, stageRoot, installDir string) models.InstallItemResult {
	item := models.InstallItemResult{Archive: archive}

	if _, err := os.Stat(archive); err != nil {
		item.Status = "failed"
		item.Reason = "archive_not_found"
		return item
	}

	extractDir := filepath.Join(stageRoot, safeStem(filepath.Base(archive)))
	method, err := s.extract(ctx, archive, extractDir)
	if err != nil {
		item.Status = "failed"
		item.Reason = err.Error()
		return item
	}

	copied, err := mergeTree(extractDir, installDir)
	if err != nil {
		item.Status = "failed"
		item.Reason = "merge_failed:" + err.Error()
		return item
	}

	item.Status = "installed"
	item.Reason = "method:" + method
	item.CopiedFiles = copied
	s.log.WithFields(logrus.Fields{
		"archive": filepath.Base(archive),
		"method":  method,
		"files":   copied,
	}).Info("Archive installed")
	return item
}

// extract unpacks the archive into dir, native zip first, 7-Zip for the rest.
func (s *Stager) extract(ctx context.Context, archive, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("stage_dir_unwritable:%s", err)
	}

	if strings.EqualFold(filepath.Ext(archive), ".zip") {
		if err := extractZip(archive, dir); err == nil {
			return "zip", nil
		}
		// A mislabeled archive may still be 7-Zip extractable.
	}

	sevenZip := s.sevenZipPath()
	if sevenZip == "" {
		return "", fmt.Errorf("unsupported_archive_or_missing_7z")
	}
	cmd := exec.CommandContext(ctx, sevenZip, "x", "-y", "-o"+dir, archive)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return "", fmt.Errorf("7z_failed:%s", detail)
	}
	return "7z", nil
}

func extractZip(archive, dir string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		dest := filepath.Join(dir, filepath.Clean(file.Name))
		// Entries must stay inside the extraction dir.
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("entry %q escapes extraction directory", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := copyZipEntry(file, dest); err != nil {
			return err
		}
	}
	return nil
}

func copyZipEntry(file *zip.File, dest string) error {
	in, err := file.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm()|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// mergeTree copies every file under sourceDir into targetDir, preserving
// relative paths and overwriting existing files. Returns the copy count.
func mergeTree(sourceDir, targetDir string) (int, error) {
	copied := 0
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(targetDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := copyFile(path, dest, info.Mode().Perm()); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// safeStem keeps alphanumerics, dash, underscore and dot; everything else
// becomes an underscore.
func safeStem(name string) string {
	var b strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '-', ch == '_', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	stem := strings.Trim(b.String(), "._")
	if stem == "" {
		return "archive"
	}
	return stem
}

func (s *Stager) writeLog(summary *models.InstallSummary, logDir, runID string) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		s.log.WithError(err).Warn("Marshaling install summary failed")
		return
	}
	path := filepath.Join(logDir, fmt.Sprintf("nexus-collection-batch-install-%s.json", runID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.log.WithError(err).Warn("Writing install summary failed")
	}
}
