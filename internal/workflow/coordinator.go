package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tutorly/internal/backend"
	"tutorly/internal/logging"
	"tutorly/internal/models"
)

var (
	// ErrBusy is returned when a run is started while another is in flight.
	ErrBusy = errors.New("a workflow run is already in progress")
	// ErrNoAudio is returned when Run is called without an audio file.
	ErrNoAudio = errors.New("an audio file is required")
	// ErrCancelled is the failure recorded for cancelled runs.
	ErrCancelled = errors.New("cancelled")
)

const processingFailed = "Processing failed"

// Backend is the subset of the REST client the workflow drives.
type Backend interface {
	UploadAudio(ctx context.Context, file backend.Upload) (*backend.UploadResult, error)
	ProcessAudio(ctx context.Context, audioID string, params models.ProcessParams) (*backend.StatusResult, error)
	AudioStatus(ctx context.Context, audioID string) (*backend.StatusResult, error)
	TranscribeAudio(ctx context.Context, audioID string, useFallback bool) (json.RawMessage, error)
	UploadDocument(ctx context.Context, file backend.Upload) (*backend.DocumentResult, error)
}

// Options configure a coordinator. Processing parameters are fixed per
// deployment and never taken from the end user.
type Options struct {
	Params       models.ProcessParams
	PollInterval time.Duration
	MaxPolls     int
	Deadline     time.Duration
}

// DefaultOptions polls every 2 s for at most 450 checks.
func DefaultOptions() Options {
	return Options{
		Params:       models.DefaultProcessParams(),
		PollInterval: 2 * time.Second,
		MaxPolls:     450,
		Deadline:     20 * time.Minute,
	}
}

// File is an input file that can be opened for streaming.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// BytesFile wraps in-memory content.
func BytesFile(name string, data []byte) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// DiskFile streams from path.
func DiskFile(name, path string) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// Input describes one run.
type Input struct {
	JobID       string
	UserID      string
	Audio       *File
	Document    *File
	UseFallback bool
}

// Observer receives a snapshot after every state change.
type Observer func(models.AudioJob)

// Coordinator drives one upload -> process -> poll -> transcribe run with an
// optional concurrent document upload.
type Coordinator struct {
	backend Backend
	opts    Options
	observe Observer

	emitMu    sync.Mutex
	mu        sync.Mutex
	job       models.AudioJob
	running   bool
	cancelled bool
	cancel    context.CancelFunc
}

func New(b Backend, opts Options, observe Observer) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Coordinator{backend: b, opts: opts, observe: observe, job: models.AudioJob{Status: models.JobIdle}}
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() models.AudioJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.Clone()
}

// Cancel aborts in-flight requests and the poll timer. A run that has not
// started yet fails immediately once it does.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		return
	}
	c.cancelled = true
}

// Run executes the workflow and blocks until both branches finish. The
// returned error is the audio branch failure if any, else the document one.
func (c *Coordinator) Run(ctx context.Context, in Input) (models.AudioJob, error) {
	if in.Audio == nil {
		return c.Snapshot(), ErrNoAudio
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return c.Snapshot(), ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	now := time.Now().UTC()
	c.job = models.AudioJob{
		ID:          in.JobID,
		UserID:      in.UserID,
		Name:        in.Audio.Name,
		Status:      models.JobIdle,
		UseFallback: in.UseFallback,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Document != nil {
		c.job.Document = &models.DocumentUpload{Name: in.Document.Name, Status: models.DocumentIdle}
	}
	cancelled := c.cancelled
	c.cancelled = false
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	if cancelled {
		cancel()
	}

	var (
		g        errgroup.Group
		audioErr error
	)
	g.Go(func() error {
		audioErr = c.runAudio(runCtx, in)
		return audioErr
	})
	if in.Document != nil {
		doc := *in.Document
		g.Go(func() error { return c.runDocument(runCtx, doc) })
	}
	err := g.Wait()
	if audioErr != nil {
		err = audioErr
	}
	return c.Snapshot(), err
}

func (c *Coordinator) runAudio(ctx context.Context, in Input) error {
	log := logging.L().WithField("job_id", in.JobID).WithField("user_id", in.UserID)
	if err := ctx.Err(); err != nil {
		return c.fail(ctx, err)
	}

	c.update(func(j *models.AudioJob) {
		j.Status = models.JobUploading
		j.Progress = 25
	})
	upload, err := c.uploadAudio(ctx, *in.Audio)
	if err != nil {
		return c.fail(ctx, err)
	}
	audioID := upload.AudioID
	log = log.WithField("audio_id", audioID)

	c.update(func(j *models.AudioJob) {
		j.AudioID = audioID
		j.Status = models.JobProcessing
		j.Progress = 50
	})
	processed, err := c.backend.ProcessAudio(ctx, audioID, c.opts.Params)
	if err != nil {
		return c.fail(ctx, err)
	}
	if !backend.ProcessingDone(processed.ProcessingStatus) {
		log.WithField("phase", "poll").Debug("waiting for processing")
		poller := Poller{Interval: c.opts.PollInterval, MaxAttempts: c.opts.MaxPolls, Deadline: c.opts.Deadline}
		polls, err := poller.Run(ctx, func(ctx context.Context) (bool, error) {
			return c.checkStatus(ctx, audioID)
		})
		c.update(func(j *models.AudioJob) { j.Polls = polls })
		if err != nil {
			return c.fail(ctx, err)
		}
	}

	c.update(func(j *models.AudioJob) {
		j.Status = models.JobTranscribing
		j.Progress = 75
	})
	result, err := c.backend.TranscribeAudio(ctx, audioID, in.UseFallback)
	if err != nil {
		return c.fail(ctx, err)
	}

	c.update(func(j *models.AudioJob) {
		j.Status = models.JobCompleted
		j.Progress = 100
		j.Transcription = result
		j.Notice = &models.Notification{
			Title:   "Audio processed successfully",
			Message: "Your transcription is ready to use.",
		}
	})
	log.Info("audio workflow completed")
	return nil
}

func (c *Coordinator) uploadAudio(ctx context.Context, f File) (*backend.UploadResult, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer rc.Close()
	return c.backend.UploadAudio(ctx, backend.Upload{Name: f.Name, Body: rc})
}

// checkStatus maps one status response onto the poll contract.
func (c *Coordinator) checkStatus(ctx context.Context, audioID string) (bool, error) {
	st, err := c.backend.AudioStatus(ctx, audioID)
	if err != nil {
		return false, err
	}
	switch {
	case backend.ProcessingDone(st.ProcessingStatus):
		return true, nil
	case st.ProcessingStatus == backend.StatusFailed:
		msg := st.Error
		if msg == "" {
			msg = processingFailed
		}
		return false, errors.New(msg)
	}
	return false, nil
}

func (c *Coordinator) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}
	msg := err.Error()
	c.update(func(j *models.AudioJob) {
		j.Status = models.JobError
		j.Error = msg
		j.Notice = &models.Notification{Title: "Error processing audio", Message: msg}
	})
	logging.L().WithField("job_id", c.Snapshot().ID).WithError(err).Warn("audio workflow failed")
	return err
}

func (c *Coordinator) runDocument(ctx context.Context, doc File) error {
	c.updateDocument(func(d *models.DocumentUpload) {
		d.Status = models.DocumentUploading
		d.Progress = 50
	})
	res, err := c.uploadDocument(ctx, doc)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		msg := err.Error()
		c.updateDocument(func(d *models.DocumentUpload) {
			d.Status = models.DocumentError
			d.Error = msg
			d.Notice = &models.Notification{Title: "Error uploading document", Message: msg}
		})
		return err
	}
	c.updateDocument(func(d *models.DocumentUpload) {
		d.Status = models.DocumentCompleted
		d.Progress = 100
		d.Message = res.Message
		notice := res.Message
		if notice == "" {
			notice = "Your document has been added to the knowledge base."
		}
		d.Notice = &models.Notification{Title: "Document uploaded", Message: notice}
	})
	return nil
}

func (c *Coordinator) uploadDocument(ctx context.Context, f File) (*backend.DocumentResult, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer rc.Close()
	return c.backend.UploadDocument(ctx, backend.Upload{Name: f.Name, Body: rc})
}

func (c *Coordinator) update(fn func(*models.AudioJob)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	fn(&c.job)
	c.job.UpdatedAt = time.Now().UTC()
	snap := c.job.Clone()
	c.mu.Unlock()
	if c.observe != nil {
		c.observe(snap)
	}
}

func (c *Coordinator) updateDocument(fn func(*models.DocumentUpload)) {
	c.update(func(j *models.AudioJob) {
		if j.Document != nil {
			fn(j.Document)
		}
	})
}
