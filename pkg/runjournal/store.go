// Package runjournal keeps an on-disk record of every finalization run so
// operators can see what a run did and so a job is not finalized twice by
// accident.
package runjournal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/workflow"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

// Store persists and loads RunRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
type Store struct {
	root string
	now  func() time.Time
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("run journal root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Start writes a new running record for wc.
func (s *Store) Start(wc workflow.Context, source Source) (*RunRecord, error) {
	rec := &RunRecord{
		RunID:         uuid.New().String(),
		JobName:       wc.JobName,
		JobKind:       wc.JobKind,
		ProfileID:     wc.ProfileID,
		ModelID:       wc.ModelID,
		LeaderboardID: wc.LeaderboardID,
		Source:        source,
		State:         RunStateRunning,
		CreatedAt:     s.now(),
	}
	if err := s.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Write stores record atomically (temp file + rename).
func (s *Store) Write(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	runID := strings.TrimSpace(record.RunID)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(runDir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}

	if err := os.Rename(tmpName, s.RunPath(runID)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

func (s *Store) Get(runID string) (*RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	b, err := os.ReadFile(s.RunPath(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json is empty")
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}
	return &record, nil
}

// List returns every readable run, newest first. Unreadable entries are skipped.
func (s *Store) List() ([]RunRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	out := make([]RunRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// LatestForJob returns the newest run recorded for the job key.
func (s *Store) LatestForJob(key itemstore.JobKey) (*RunRecord, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range runs {
		r := runs[i]
		if r.JobName == key.JobName && r.ModelID == key.ModelID &&
			r.ProfileID == key.ProfileID && r.LeaderboardID == key.LeaderboardID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: job %s", ErrNotFound, key.JobName)
}

// AlreadyFinalized reports whether the job's latest run reached a terminal
// outcome (persisted or canceled).
func (s *Store) AlreadyFinalized(key itemstore.JobKey) (*RunRecord, bool, error) {
	r, err := s.LatestForJob(key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, r.State == RunStatePersisted || r.State == RunStateCanceled, nil
}

// LedgerApplied returns the newest run for the job key that charged the
// usage ledger, whatever that run's final state.
func (s *Store) LedgerApplied(key itemstore.JobKey) (*RunRecord, bool, error) {
	runs, err := s.List()
	if err != nil {
		return nil, false, err
	}
	for i := range runs {
		r := runs[i]
		if r.JobName == key.JobName && r.ModelID == key.ModelID &&
			r.ProfileID == key.ProfileID && r.LeaderboardID == key.LeaderboardID &&
			r.LedgerApplied() {
			return &r, true, nil
		}
	}
	return nil, false, nil
}
