package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateJob is returned when creating a job whose id is already
	// registered.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound is returned when a job id is not registered.
	ErrJobNotFound = errors.New("job not found")
)

const defaultCapacity = 500

// Listing limits. Requests outside the range are clamped here; the HTTP
// layer rejects them earlier with a 400.
const (
	MinListLimit = 1
	MaxListLimit = 100
)

// Store is the in-process job registry. Contents are lost on restart, which
// is acceptable because terminal results are mirrored to durable storage.
// Only the orchestrator mutates a given job, sequentially over its lifecycle;
// the store still serializes all mutations so concurrent jobs never corrupt
// each other.
type Store struct {
	capacity int

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewStore creates a registry holding at most capacity jobs. Once the
// capacity is exceeded the least-recently-created entries are evicted.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		capacity: capacity,
		jobs:     make(map[string]*Job),
	}
}

// Create registers a new job in queued state.
func (s *Store) Create(job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	stored := cloneJob(job)
	if stored.Status == "" {
		stored.Status = StatusQueued
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.jobs[stored.ID] = stored
	s.evictLocked()
	return nil
}

// UpdateStatus overwrites the mutable fields of a job. Transitions may only
// move forward through the lifecycle; an attempt to leave a terminal state or
// regress to queued is rejected.
func (s *Store) UpdateStatus(id string, status Status, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !validTransition(job.Status, status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", job.Status, status, id)
	}

	job.Status = status
	if upd.Progress != nil {
		job.Progress = clampProgress(*upd.Progress)
	}
	if upd.Result != nil {
		job.Result = upd.Result
	}
	if upd.Error != "" {
		job.Error = upd.Error
	}
	if upd.Warning != "" {
		job.Warning = upd.Warning
	}
	job.UpdatedAt = time.Now()
	return nil
}

// Get returns a snapshot of a job.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// Recent returns up to limit jobs ordered most-recently-updated first. The
// limit is clamped to [1,100].
func (s *Store) Recent(limit int) []*Job {
	return s.recent(limit, "")
}

// RecentForSession behaves like Recent but only returns jobs belonging to
// sessionID.
func (s *Store) RecentForSession(sessionID string, limit int) []*Job {
	return s.recent(limit, sessionID)
}

// Len reports the number of registered jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// PruneTerminalBefore drops terminal jobs last updated before cutoff and
// returns how many were removed. The maintenance cron calls this so the
// registry does not accumulate finished work between capacity evictions.
func (s *Store) PruneTerminalBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *Store) recent(limit int, sessionID string) []*Job {
	if limit < MinListLimit {
		limit = MinListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	s.mu.RLock()
	snapshot := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if sessionID != "" && job.SessionID != sessionID {
			continue
		}
		snapshot = append(snapshot, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if !snapshot[i].UpdatedAt.Equal(snapshot[j].UpdatedAt) {
			return snapshot[i].UpdatedAt.After(snapshot[j].UpdatedAt)
		}
		return snapshot[i].ID < snapshot[j].ID
	})

	if len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}
	return snapshot
}

// evictLocked removes least-recently-created jobs until the registry fits the
// configured capacity again.
func (s *Store) evictLocked() {
	if len(s.jobs) <= s.capacity {
		return
	}

	type candidate struct {
		id        string
		createdAt time.Time
	}
	all := make([]candidate, 0, len(s.jobs))
	for id, job := range s.jobs {
		all = append(all, candidate{id: id, createdAt: job.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	toRemove := len(s.jobs) - s.capacity
	for i := 0; i < toRemove && i < len(all); i++ {
		delete(s.jobs, all[i].id)
	}
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusQueued || to == StatusProcessing || to == StatusDone || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusDone || to == StatusFailed
	default:
		// done and failed are terminal; only same-state field updates
		// (e.g. attaching a soft-fail warning) are allowed
		return to == from
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
