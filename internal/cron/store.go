package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// storeVersion is the on-disk document version.
const storeVersion = 1

type storeDocument struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// Store is the durable job list, persisted as a single versioned JSON file.
// All mutations are serialized by an internal mutex and saved before they
// return.
type Store struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	jobs []*Job
}

// NewStore loads (or lazily creates) the job store at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cron store: %w", err)
	}
	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse cron store: %w", err)
	}
	s.jobs = doc.Jobs
	return nil
}

// save persists the job list. Callers must hold s.mu.
func (s *Store) save() error {
	doc := storeDocument{Version: storeVersion, Jobs: s.jobs}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cron store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}

// Add validates and persists a new job, assigning it an id. Validation errors
// are reported at creation, never deferred to run time.
func (s *Store) Add(name string, schedule Schedule, payload Payload, deleteAfterRun bool, owner string) (*Job, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if schedule.Kind == KindAt {
		if at := time.UnixMilli(schedule.AtMS); !at.After(s.now()) {
			return nil, fmt.Errorf("at schedule %s is in the past", at.UTC().Format(time.RFC3339))
		}
	}

	nowMS := s.now().UnixMilli()
	job := &Job{
		ID:             uuid.NewString(),
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		CreatedAtMS:    nowMS,
		UpdatedAtMS:    nowMS,
		DeleteAfterRun: deleteAfterRun,
		Owner:          owner,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := s.save(); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return nil, err
	}
	clone := *job
	return &clone, nil
}

// Get returns a copy of the job with the given id.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			clone := *job
			return &clone, true
		}
	}
	return nil, false
}

// List returns copies of all jobs in creation order.
func (s *Store) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		clone := *job
		out = append(out, &clone)
	}
	return out
}

// Remove deletes a job by id. Removing an unknown id is not an error.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// SetEnabled toggles a job.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			job.Enabled = enabled
			job.UpdatedAtMS = s.now().UnixMilli()
			return s.save()
		}
	}
	return fmt.Errorf("cron job %s not found", id)
}

// RecordRun updates a job's run state after a fire. One-shot jobs marked
// delete_after_run are removed regardless of the run's outcome.
func (s *Store) RecordRun(id string, status RunStatus, runErr string, output string, ranAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID != id {
			continue
		}
		if job.DeleteAfterRun && job.Schedule.Kind == KindAt {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return s.save()
		}
		job.State = RunState{
			LastRunAtMS: ranAt.UnixMilli(),
			LastStatus:  status,
			LastError:   runErr,
			LastOutput:  output,
		}
		job.UpdatedAtMS = s.now().UnixMilli()
		return s.save()
	}
	return fmt.Errorf("cron job %s not found", id)
}

// DueJobs returns copies of the enabled jobs due at now.
func (s *Store) DueJobs(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Due(now) {
			clone := *job
			due = append(due, &clone)
		}
	}
	return due
}
