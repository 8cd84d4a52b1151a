package worker

import (
	"sort"
	"sync"

	"tutorly/internal/models"
	"tutorly/internal/workflow"
)

// finished jobs kept in memory per user
const keepFinished = 20

type jobEntry struct {
	job     models.AudioJob
	coord   *workflow.Coordinator
	cleanup func()
	done    bool
}

type userState struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func newUserState() *userState {
	return &userState{jobs: make(map[string]*jobEntry)}
}

// reserve adds the entry unless another job of the user is still in flight.
func (s *userState) reserve(entry *jobEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if !e.done {
			return workflow.ErrBusy
		}
	}
	s.jobs[entry.job.ID] = entry
	return nil
}

func (s *userState) setJob(job models.AudioJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[job.ID]; ok {
		e.job = job.Clone()
	}
}

func (s *userState) getEntry(jobID string) (*jobEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[jobID]
	return e, ok
}

func (s *userState) getJob(jobID string) (models.AudioJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return models.AudioJob{}, false
	}
	return e.job.Clone(), true
}

// list returns jobs newest first.
func (s *userState) list() []models.AudioJob {
	s.mu.RLock()
	out := make([]models.AudioJob, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// finish marks the job done, releases its coordinator and prunes old jobs.
func (s *userState) finish(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return
	}
	e.done = true
	e.coord = nil
	e.cleanup = nil

	var finished []*jobEntry
	for _, e := range s.jobs {
		if e.done {
			finished = append(finished, e)
		}
	}
	if len(finished) <= keepFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].job.CreatedAt.Before(finished[j].job.CreatedAt) })
	for _, e := range finished[:len(finished)-keepFinished] {
		delete(s.jobs, e.job.ID)
	}
}

func (s *userState) remove(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// reset empties the state and returns the entries that were still running.
func (s *userState) reset() []*jobEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*jobEntry
	for _, e := range s.jobs {
		if !e.done {
			active = append(active, e)
		}
	}
	s.jobs = make(map[string]*jobEntry)
	return active
}
