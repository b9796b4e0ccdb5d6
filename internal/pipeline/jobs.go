package pipeline

import (
	"sort"
	"sync"
	"time"
)

// JobState is where a tracked document sits in the orchestrator.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
)

// Job is one document the orchestrator has accepted and not yet finished.
type Job struct {
	DocumentID string    `json:"document_id"`
	State      JobState  `json:"state"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

// jobSet tracks queued and running documents so the same id is never
// queued twice or run by two workers at once.
type jobSet struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

func newJobSet() *jobSet {
	return &jobSet{jobs: make(map[string]*Job), now: time.Now}
}

// add registers id as queued. It reports false if id is already tracked.
func (s *jobSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return false
	}
	s.jobs[id] = &Job{DocumentID: id, State: JobQueued, QueuedAt: s.now()}
	return true
}

func (s *jobSet) start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.State = JobRunning
		j.StartedAt = s.now()
	}
}

func (s *jobSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *jobSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// snapshot returns copies of the tracked jobs, oldest first.
func (s *jobSet) snapshot() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}
