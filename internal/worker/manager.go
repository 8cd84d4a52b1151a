package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorly/internal/logging"
	"tutorly/internal/models"
	"tutorly/internal/redis"
	"tutorly/internal/workflow"
)

// ErrJobNotFound is returned for unknown jobs or jobs owned by another user.
var ErrJobNotFound = errors.New("job not found")

type Config struct {
	Workflow   workflow.Options
	Dispatcher DispatcherConfig
	Redis      *redis.Client
}

// StartRequest describes one workflow run. Context must outlive the HTTP
// request that created it; it carries the caller's identity session.
type StartRequest struct {
	Context context.Context
	UserID  string
	Input   workflow.Input
	Cleanup func()
}

// Manager runs workflow jobs on the dispatcher and keeps per-user job state.
type Manager struct {
	backend    workflow.Backend
	opts       workflow.Options
	dispatcher *Dispatcher
	rdb        *stateRedis

	mu          sync.Mutex
	users       map[string]*userState
	onUpdate    func(models.AudioJob)
	onCompleted func(userID string)

	stopListener context.CancelFunc
}

func NewManager(b workflow.Backend, cfg Config) *Manager {
	m := &Manager{
		backend:    b,
		opts:       cfg.Workflow,
		dispatcher: NewDispatcher(cfg.Dispatcher),
		rdb:        newStateCache(cfg.Redis, uuid.NewString()),
		users:      make(map[string]*userState),
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.stopListener = cancel
	m.rdb.startListener(ctx, m.emitUpdate)
	return m
}

// OnUpdate registers a callback for every job snapshot, local or remote.
func (m *Manager) OnUpdate(fn func(models.AudioJob)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// OnCompleted registers a callback fired after a job completes successfully.
func (m *Manager) OnCompleted(fn func(userID string)) {
	m.mu.Lock()
	m.onCompleted = fn
	m.mu.Unlock()
}

// Start queues a run. It fails with workflow.ErrBusy while the user has a
// job in flight and with ErrDispatcherBusy when the queue is full.
func (m *Manager) Start(req StartRequest) (models.AudioJob, error) {
	if req.Input.Audio == nil {
		return models.AudioJob{}, workflow.ErrNoAudio
	}
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	jobID := uuid.NewString()
	in := req.Input
	in.JobID = jobID
	in.UserID = req.UserID

	now := time.Now().UTC()
	job := models.AudioJob{
		ID:          jobID,
		UserID:      req.UserID,
		Name:        in.Audio.Name,
		Status:      models.JobIdle,
		UseFallback: in.UseFallback,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Document != nil {
		job.Document = &models.DocumentUpload{Name: in.Document.Name, Status: models.DocumentIdle}
	}

	state := m.userState(req.UserID)
	entry := &jobEntry{job: job, cleanup: req.Cleanup}
	entry.coord = workflow.New(m.backend, m.opts, func(snap models.AudioJob) {
		state.setJob(snap)
		m.publish(snap)
	})
	if err := state.reserve(entry); err != nil {
		return models.AudioJob{}, err
	}

	coord := entry.coord
	cleanup := req.Cleanup
	err := m.dispatcher.Submit(Job{
		Type:   Run,
		UserID: req.UserID,
		JobID:  jobID,
		run: func() {
			m.runJob(ctx, state, coord, in, cleanup)
		},
		drop: func() {
			m.dropJob(state, jobID, cleanup)
		},
	})
	if err != nil {
		state.remove(jobID)
		return models.AudioJob{}, err
	}
	logging.WithUser(req.UserID).WithField("job_id", jobID).Info("workflow job queued")
	m.publish(job)
	return job.Clone(), nil
}

func (m *Manager) runJob(ctx context.Context, state *userState, coord *workflow.Coordinator, in workflow.Input, cleanup func()) {
	defer func() {
		if cleanup != nil {
			cleanup()
		}
		state.finish(in.JobID)
	}()
	job, err := coord.Run(ctx, in)
	if err != nil {
		logging.WithUser(in.UserID).WithField("job_id", in.JobID).WithError(err).Warn("workflow job failed")
	}
	if job.Status == models.JobCompleted {
		m.mu.Lock()
		fn := m.onCompleted
		m.mu.Unlock()
		if fn != nil {
			fn(in.UserID)
		}
	}
}

// dropJob records a job withdrawn from the queue as cancelled.
func (m *Manager) dropJob(state *userState, jobID string, cleanup func()) {
	if cleanup != nil {
		cleanup()
	}
	job, ok := state.getJob(jobID)
	if !ok {
		return
	}
	job.Status = models.JobError
	job.Error = workflow.ErrCancelled.Error()
	job.Notice = &models.Notification{Title: "Error processing audio", Message: job.Error}
	job.UpdatedAt = time.Now().UTC()
	state.setJob(job)
	state.finish(jobID)
	m.publish(job)
}

// Get returns a job of the user, falling back to the shared redis snapshot
// for jobs started on another instance.
func (m *Manager) Get(userID, jobID string) (models.AudioJob, error) {
	if state := m.lookupUser(userID); state != nil {
		if job, ok := state.getJob(jobID); ok {
			return job, nil
		}
	}
	if job, ok := m.rdb.loadJob(userID, jobID); ok {
		return job, nil
	}
	return models.AudioJob{}, ErrJobNotFound
}

// List returns the user's known jobs, newest first.
func (m *Manager) List(userID string) []models.AudioJob {
	var jobs []models.AudioJob
	seen := make(map[string]bool)
	if state := m.lookupUser(userID); state != nil {
		jobs = state.list()
		for _, j := range jobs {
			seen[j.ID] = true
		}
	}
	for _, j := range m.rdb.loadJobs(userID) {
		if !seen[j.ID] {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Cancel withdraws a queued job or aborts a running one.
func (m *Manager) Cancel(userID, jobID string) error {
	state := m.lookupUser(userID)
	if state == nil {
		return ErrJobNotFound
	}
	entry, ok := state.getEntry(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if job, ok := m.dispatcher.Remove(userID, jobID); ok {
		if job.drop != nil {
			job.drop()
		}
		return nil
	}
	state.mu.RLock()
	coord := entry.coord
	state.mu.RUnlock()
	if coord != nil {
		coord.Cancel()
	}
	return nil
}

// ResetUser cancels everything the user has queued or running and forgets
// their jobs. Used on logout.
func (m *Manager) ResetUser(userID string) {
	for _, job := range m.dispatcher.CancelUser(userID) {
		if job.drop != nil {
			job.drop()
		}
	}
	m.mu.Lock()
	state := m.users[userID]
	delete(m.users, userID)
	m.mu.Unlock()
	if state != nil {
		for _, e := range state.reset() {
			if e.coord != nil {
				e.coord.Cancel()
			}
		}
	}
	m.rdb.invalidateUser(userID)
}

func (m *Manager) Close() {
	m.stopListener()
	m.dispatcher.Stop()
}

func (m *Manager) publish(job models.AudioJob) {
	m.rdb.cacheJob(job)
	m.rdb.publishProgress(job)
	m.emitUpdate(job)
}

func (m *Manager) emitUpdate(job models.AudioJob) {
	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil {
		fn(job)
	}
}

func (m *Manager) userState(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.users[userID]
	if !ok {
		state = newUserState()
		m.users[userID] = state
	}
	return state
}

func (m *Manager) lookupUser(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID]
}
