package storage

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	manifestVersion = "1.0"
	maxManifestRuns = 50
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run records one pipeline execution.
type Run struct {
	ID         string                    `json:"id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at,omitempty"`
	Status     string                    `json:"status"`
	Error      string                    `json:"error,omitempty"`
	Phases     map[string]map[string]int `json:"phases"`
}

// ManifestStore persists the run history as a single JSON file.
type ManifestStore struct {
	fs   afero.Fs
	path string
	data *manifestData
	mu   sync.Mutex
}

type manifestData struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Runs      []*Run    `json:"runs"`
}

// OpenManifest loads the manifest at path, or starts an empty one.
func OpenManifest(fs afero.Fs, path string) (*ManifestStore, error) {
	s := &ManifestStore{fs: fs, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ManifestStore) load() error {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = &manifestData{Version: manifestVersion}
			return nil
		}
		return &StorageError{Op: "read", Entity: "manifest", ID: s.path, Err: err}
	}

	var md manifestData
	if err := json.Unmarshal(data, &md); err != nil {
		return &StorageError{Op: "read", Entity: "manifest", ID: s.path, Err: ErrStorageCorrupt}
	}
	s.data = &md
	return nil
}

func (s *ManifestStore) save() error {
	s.data.UpdatedAt = time.Now().UTC()
	if len(s.data.Runs) > maxManifestRuns {
		s.data.Runs = s.data.Runs[len(s.data.Runs)-maxManifestRuns:]
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return &StorageError{Op: "write", Entity: "manifest", ID: s.path, Err: err}
	}
	if err := WriteFileAtomic(s.fs, s.path, data); err != nil {
		return &StorageError{Op: "write", Entity: "manifest", ID: s.path, Err: err}
	}
	return nil
}

// StartRun appends a new running entry and persists it.
func (s *ManifestStore) StartRun(now time.Time) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: now.UTC(),
		Status:    RunStatusRunning,
		Phases:    make(map[string]map[string]int),
	}
	s.data.Runs = append(s.data.Runs, run)
	return run, s.save()
}

// Record merges counters for a phase into run and persists the manifest.
func (s *ManifestStore) Record(run *Run, phase string, counts map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst, ok := run.Phases[phase]
	if !ok {
		dst = make(map[string]int, len(counts))
		run.Phases[phase] = dst
	}
	for k, v := range counts {
		dst[k] += v
	}
	return s.save()
}

// FinishRun marks run completed, or failed when runErr is non-nil.
func (s *ManifestStore) FinishRun(run *Run, now time.Time, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.FinishedAt = now.UTC()
	run.Status = RunStatusCompleted
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}
	return s.save()
}

// LastRun returns the most recent run.
func (s *ManifestStore) LastRun() (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data.Runs) == 0 {
		return nil, &StorageError{Op: "read", Entity: "run", Err: ErrNotFound}
	}
	return s.data.Runs[len(s.data.Runs)-1], nil
}
