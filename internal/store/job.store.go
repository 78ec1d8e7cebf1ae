package store

import (
	"sort"
	"sync"

	"importdeck/internal/models"
	"importdeck/pkg/logger"
)

// JobStore holds the last-known state of every job this client has observed.
// Both transports (poll and push) merge into it through Upsert; the sticky
// terminal rule makes the merge order-independent for terminal states, and
// last-write-wins is the accepted ordering for in-flight states.
type JobStore struct {
	log logger.Logger

	mu        sync.RWMutex
	jobs      map[int64]models.ImportJob
	retryable map[int64]struct{}
}

func New() *JobStore {
	return &JobStore{
		log:       logger.New("jobStore"),
		jobs:      make(map[int64]models.ImportJob),
		retryable: make(map[int64]struct{}),
	}
}

// Upsert merges an incoming observation. Inserts if unseen, ignores entirely if
// the existing record is terminal (unless the id was un-stuck by a retry), and
// overwrites otherwise. Malformed records are dropped and logged, never
// inserted, so one bad record cannot poison a batch. Returns whether the
// observation was applied.
func (s *JobStore) Upsert(job models.ImportJob) bool {
	log := s.log.Function("Upsert")

	if err := job.Validate(); err != nil {
		log.Warn("Dropping malformed job record", "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.jobs[job.ID]
	if exists && existing.Status.IsTerminal() {
		if _, unstuck := s.retryable[job.ID]; !unstuck {
			return false
		}
	}

	// Push messages carry counts only; keep the filename learned from the poll.
	if exists && job.OriginalFilename == "" {
		job.OriginalFilename = existing.OriginalFilename
	}

	// A non-terminal observation means the server reopened the job; the retry
	// window has served its purpose.
	if !job.Status.IsTerminal() {
		delete(s.retryable, job.ID)
	}

	s.jobs[job.ID] = job
	return true
}

// Unstick opens a new observation window for a job stuck in a terminal state.
// Required by retry: without it the retried job would appear permanently
// failed, because the sticky rule rejects every later observation.
func (s *JobStore) Unstick(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retryable[id] = struct{}{}
}

// Remove deletes a record unconditionally. Used by the optimistic delete path.
func (s *JobStore) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	delete(s.retryable, id)
}

// Get returns the last-known record for a job id.
func (s *JobStore) Get(id int64) (models.ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	return job, ok
}

// List returns records ordered by id descending (most recent first). A
// positive limit caps the result to the recent window; zero or negative
// returns everything.
func (s *JobStore) List(limit int) []models.ImportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]models.ImportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID > jobs[j].ID
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.jobs)
}
