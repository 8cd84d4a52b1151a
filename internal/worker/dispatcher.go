package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"tutorly/internal/logging"
)

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errors.New("too many pending jobs, try again later")

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds jobs to the pool round-robin across users so one user's
// backlog cannot starve another's.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*userQueue
	ready     *list.List // users with pending jobs, least recently served first
	positions map[string]*list.Element
	quit      chan struct{}
	stopOnce  sync.Once
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		JobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit enqueues without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop ends dispatching. Running jobs finish on their own.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// Remove withdraws a queued job. It reports false once a worker has it.
func (d *Dispatcher) Remove(userID, jobID string) (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[userID]
	if q == nil {
		return Job{}, false
	}
	for i, job := range q.jobs {
		if job.JobID != jobID {
			continue
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		if len(q.jobs) == 0 {
			d.dropUserLocked(userID)
		}
		return job, true
	}
	return Job{}, false
}

// CancelUser drops every queued job of the user and returns them.
func (d *Dispatcher) CancelUser(userID string) []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	var dropped []Job
	if q := d.queues[userID]; q != nil {
		dropped = q.jobs
	}
	d.dropUserLocked(userID)
	return dropped
}

func (d *Dispatcher) dropUserLocked(userID string) {
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dispatchOne waits for a free worker, then hands it the next job of the
// front user. Jobs stay removable until a worker is available.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	pending := d.ready.Len() > 0
	d.mu.Unlock()
	if !pending {
		return false
	}

	workerChan := d.pool.acquire()

	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		d.pool.Release(workerChan)
		return true
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		d.dropUserLocked(userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	logging.Debugf("[dispatcher] assign job %s for user %s to worker-%d", job.JobID, userID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}
