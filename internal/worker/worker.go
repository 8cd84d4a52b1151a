package worker

import (
	"fmt"

	"tutorly/internal/logging"
)

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

// Job is one unit of work routed to a pool worker. drop is called instead of
// run when the job is withdrawn before a worker picks it up.
type Job struct {
	Type   JobType
	UserID string
	JobID  string
	run    func()
	drop   func()
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				logging.Debugf("[worker-%d] retired", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			w.execute(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().WithField("job_id", job.JobID).WithField("user_id", job.UserID).
				Errorf("[worker-%d] job panicked: %v", w.id, fmt.Sprint(r))
		}
	}()
	if job.run != nil {
		job.run()
	}
}
