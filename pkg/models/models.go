package models

import (
	"fmt"
	"time"
)

// ModTarget identifies a single downloadable mod file on the hosting site.
// Identity is the (Domain, ModID, FileID) triple; FileID 0 means "the mod's
// default file". Immutable once created.
type ModTarget struct {
	Domain string
	ModID  int
	FileID int // 0 = absent
}

// HasFileID reports whether the target pins a specific file.
func (t ModTarget) HasFileID() bool { return t.FileID > 0 }

// String returns the triple in a compact diagnostic form.
func (t ModTarget) String() string {
	if t.HasFileID() {
		return fmt.Sprintf("%s/%d (file %d)", t.Domain, t.ModID, t.FileID)
	}
	return fmt.Sprintf("%s/%d", t.Domain, t.ModID)
}

// ExtractionResult holds the outcome of one link-discovery pass over a
// collection page. Created once per run; never mutated afterwards.
type ExtractionResult struct {
	Links       []string               `json:"links"` // Canonical target URLs, unique, first-seen order
	Strategy    ExtractionStrategy     `json:"strategy"`
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"` // Strategy-specific counters
}

// ItemResult records the terminal outcome of resolving one queued target.
// Appended to the run's result list; immutable after creation.
type ItemResult struct {
	Index   int        `json:"index"` // 1-based queue position
	ModURL  string     `json:"mod_url"`
	Status  ItemStatus `json:"status"`
	Reason  string     `json:"reason"`             // Diagnostic string; may embed a resolved file path
	Archive string     `json:"archive,omitempty"`  // Resolved archive path when Status == ok
	SHA256  string     `json:"sha256,omitempty"`   // Hash of the resolved archive, best effort
	Elapsed float64    `json:"elapsed_s,omitempty"`
}

// InstallItemResult records the outcome for one archive during staging.
type InstallItemResult struct {
	Archive     string `json:"archive"`
	Status      string `json:"status"` // "installed" or "failed"
	Reason      string `json:"reason"`
	CopiedFiles int    `json:"copied_files,omitempty"`
}

// InstallSummary is the Install Stager's aggregate output.
type InstallSummary struct {
	Installed  int                 `json:"installed"`
	Failed     int                 `json:"failed"`
	Results    []InstallItemResult `json:"results"`
	StageDir   string              `json:"stage_dir"`
	InstallDir string              `json:"install_dir"`
}

// RunReport is the full persisted record of one batch run. Created at run
// start with empty results, mutated by appending results and setting the
// install summary, persisted and then never touched again.
type RunReport struct {
	RunID           string                            `json:"run_id"`
	Timestamp       time.Time                         `json:"timestamp"`
	CollectionURL   string                            `json:"collection_url"`
	DownloadsDir    string                            `json:"downloads_dir,omitempty"`
	InstallDir      string                            `json:"install_dir,omitempty"`
	CDPURL          string                            `json:"cdp_url,omitempty"`
	DryRun          bool                              `json:"dry_run"`
	VerifyDownloads bool                              `json:"verify_downloads"`
	MaxMods         int                               `json:"max_mods,omitempty"`
	GameID          int                               `json:"game_id,omitempty"`
	QueueCount      int                               `json:"queue_count"`
	QueueFirst5     []string                          `json:"queue_first_5"`
	Results         []ItemResult                      `json:"results"`
	Extraction      map[string]map[string]interface{} `json:"extraction"`
	InstallSummary  *InstallSummary                   `json:"install_summary,omitempty"`
	FatalError      string                            `json:"fatal_error,omitempty"`
	Interrupted     bool                              `json:"interrupted,omitempty"`
}

// CountByStatus tallies results by terminal status.
func (r *RunReport) CountByStatus(status ItemStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}
