// Package storage persists run history and per-target outcomes in BadgerDB,
// backing the resume check and the job-server's run listing.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/log"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/utils"
)

const (
	targetKeyPrefix = "target:"    // Per-target outcome records
	runKeyPrefix    = "run:"       // Full run reports by run id
	historyDBDir    = "history_db" // Subdirectory within stateDir for Badger files
)

// TargetRecord is the durable per-target outcome used by the resume check.
type TargetRecord struct {
	ModURL    string            `json:"mod_url"`
	Status    models.ItemStatus `json:"status"`
	Reason    string            `json:"reason"`
	Archive   string            `json:"archive,omitempty"`
	RunID     string            `json:"run_id"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HistoryStore wraps the BadgerDB instance holding run history.
type HistoryStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// OpenHistory initializes the history database under stateDir.
func OpenHistory(stateDir string, logger *logrus.Entry) (*HistoryStore, error) {
	dbPath := filepath.Join(stateDir, historyDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %v", utils.ErrDatabase, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest outcome per target matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %v", utils.ErrDatabase, dbPath, err)
	}

	logger.WithField("path", dbPath).Info("Run history database initialized")
	return &HistoryStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction
// conflicts, which resolve in microseconds.
func (s *HistoryStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func targetKey(t models.ModTarget) []byte {
	return []byte(fmt.Sprintf("%s%s/%d/%d", targetKeyPrefix, t.Domain, t.ModID, t.FileID))
}

// RecordOutcome stores the latest outcome for a target.
func (s *HistoryStore) RecordOutcome(target models.ModTarget, record TargetRecord) error {
	record.UpdatedAt = time.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal target record: %v", utils.ErrDatabase, err)
	}
	key := targetKey(target)
	if err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data))
	}); err != nil {
		return fmt.Errorf("%w: setting outcome for key '%s': %v", utils.ErrDatabase, string(key), err)
	}
	return nil
}

// LastOutcome returns the stored outcome for a target, or nil when none
// exists. A record that fails to decode is treated as absent.
func (s *HistoryStore) LastOutcome(target models.ModTarget) (*TargetRecord, error) {
	key := targetKey(target)
	var record *TargetRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting key '%s': %v", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded TargetRecord
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal target record for key '%s': %v. Treating as absent.", string(key), errJSON)
				return nil
			}
			record = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AlreadyAcquired reports whether the target was resolved ok by an earlier
// run and its archive is still on disk. Used by the resume check; a stale
// record whose archive is gone does not count.
func (s *HistoryStore) AlreadyAcquired(target models.ModTarget) (string, bool) {
	record, err := s.LastOutcome(target)
	if err != nil {
		s.log.WithError(err).Warn("Resume lookup failed, treating target as new")
		return "", false
	}
	if record == nil || record.Status != models.StatusOK || record.Archive == "" {
		return "", false
	}
	if _, err := os.Stat(record.Archive); err != nil {
		return "", false
	}
	return record.Archive, true
}

// SaveRun persists the full run report under its run id.
func (s *HistoryStore) SaveRun(report *models.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%w: marshal run report: %v", utils.ErrDatabase, err)
	}
	key := []byte(runKeyPrefix + report.RunID)
	if err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data))
	}); err != nil {
		return fmt.Errorf("%w: saving run '%s': %v", utils.ErrDatabase, report.RunID, err)
	}
	return nil
}

// GetRun loads one stored run report. Returns nil when the run id is unknown.
func (s *HistoryStore) GetRun(runID string) (*models.RunReport, error) {
	var report *models.RunReport
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(runKeyPrefix + runID))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting run '%s': %v", utils.ErrDatabase, runID, errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.RunReport
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return fmt.Errorf("%w: decode run '%s': %v", utils.ErrDatabase, runID, errJSON)
			}
			report = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListRuns returns stored run reports, newest timestamp first, capped at
// limit (0 = no cap).
func (s *HistoryStore) ListRuns(limit int) ([]*models.RunReport, error) {
	var reports []*models.RunReport
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			errVal := it.Item().Value(func(val []byte) error {
				var decoded models.RunReport
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					s.log.Warnf("Skipping undecodable run record: %v", errJSON)
					return nil
				}
				reports = append(reports, &decoded)
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing runs: %v", utils.ErrDatabase, err)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

// StartGC runs Badger's value-log garbage collection periodically until the
// context ends.
func (s *HistoryStore) StartGC(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					if err := s.db.RunValueLogGC(0.5); err != nil {
						break
					}
				}
			}
		}
	}()
}

// Close flushes and closes the database.
func (s *HistoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing history database: %v", utils.ErrDatabase, err)
	}
	return nil
}
