package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tutorly/internal/backend"
	"tutorly/internal/models"
)

type fakeBackend struct {
	mu            sync.Mutex
	processStatus string
	statuses      []backend.StatusResult
	statusCalls   int32
	transcribed   int32
	fallback      bool
	uploadErr     error
	docErr        error
	docDelay      time.Duration
	blockStatus   bool
	statusErr     error
	params        models.ProcessParams
}

func (f *fakeBackend) UploadAudio(ctx context.Context, file backend.Upload) (*backend.UploadResult, error) {
	if _, err := io.ReadAll(file.Body); err != nil {
		return nil, err
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &backend.UploadResult{AudioID: "aud-1"}, ctx.Err()
}

func (f *fakeBackend) ProcessAudio(ctx context.Context, audioID string, params models.ProcessParams) (*backend.StatusResult, error) {
	f.mu.Lock()
	f.params = params
	f.mu.Unlock()
	return &backend.StatusResult{ProcessingStatus: f.processStatus}, nil
}

func (f *fakeBackend) AudioStatus(ctx context.Context, audioID string) (*backend.StatusResult, error) {
	n := int(atomic.AddInt32(&f.statusCalls, 1))
	if f.blockStatus {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return &backend.StatusResult{ProcessingStatus: "processing"}, nil
	}
	if n > len(f.statuses) {
		n = len(f.statuses)
	}
	st := f.statuses[n-1]
	return &st, nil
}

func (f *fakeBackend) TranscribeAudio(ctx context.Context, audioID string, useFallback bool) (json.RawMessage, error) {
	atomic.AddInt32(&f.transcribed, 1)
	f.mu.Lock()
	f.fallback = useFallback
	f.mu.Unlock()
	return json.RawMessage(`{"complete_transcription":"hola"}`), nil
}

func (f *fakeBackend) UploadDocument(ctx context.Context, file backend.Upload) (*backend.DocumentResult, error) {
	if f.docDelay > 0 {
		time.Sleep(f.docDelay)
	}
	if f.docErr != nil {
		return nil, f.docErr
	}
	return &backend.DocumentResult{Message: "indexed"}, nil
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = time.Millisecond
	opts.Deadline = 0
	return opts
}

func audioInput() Input {
	f := BytesFile("clase.mp3", []byte("ID3"))
	return Input{JobID: "job-1", UserID: "user-1", Audio: &f}
}

func TestRunSkipsPollingWhenAlreadyProcessed(t *testing.T) {
	fb := &fakeBackend{processStatus: "completed"}
	var (
		seen     []models.JobStatus
		progress []int
	)
	c := New(fb, fastOptions(), func(j models.AudioJob) {
		seen = append(seen, j.Status)
		progress = append(progress, j.Progress)
	})

	in := audioInput()
	in.UseFallback = true
	job, err := c.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&fb.statusCalls) != 0 {
		t.Fatalf("expected no status polls, got %d", fb.statusCalls)
	}
	if job.Status != models.JobCompleted || job.Progress != 100 || job.AudioID != "aud-1" {
		t.Fatalf("unexpected final job %+v", job)
	}
	if !fb.fallback {
		t.Fatal("use_fallback not forwarded")
	}
	want := []models.JobStatus{models.JobUploading, models.JobProcessing, models.JobTranscribing, models.JobCompleted}
	if len(seen) != len(want) {
		t.Fatalf("unexpected transitions %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if diff := cmp.Diff([]int{25, 50, 75, 100}, progress); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
	if fb.params != models.DefaultProcessParams() {
		t.Fatalf("unexpected process params %+v", fb.params)
	}
}

func TestRunSurfacesBackendFailureVerbatim(t *testing.T) {
	fb := &fakeBackend{
		processStatus: "processing",
		statuses: []backend.StatusResult{
			{ProcessingStatus: "processing"},
			{ProcessingStatus: "failed", Error: "disk full"},
		},
	}
	c := New(fb, fastOptions(), nil)

	job, err := c.Run(context.Background(), audioInput())
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected disk full error, got %v", err)
	}
	if job.Status != models.JobError || job.Error != "disk full" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Notice == nil || job.Notice.Message != "disk full" {
		t.Fatalf("expected notification carrying the failure, got %+v", job.Notice)
	}
	if got := atomic.LoadInt32(&fb.statusCalls); got != 2 {
		t.Fatalf("expected polling to stop on first terminal status, got %d calls", got)
	}
	if atomic.LoadInt32(&fb.transcribed) != 0 {
		t.Fatal("transcription must not run after a failure")
	}
}

func TestRunDefaultFailureMessage(t *testing.T) {
	fb := &fakeBackend{processStatus: "queued", statuses: []backend.StatusResult{{ProcessingStatus: "failed"}}}
	job, err := New(fb, fastOptions(), nil).Run(context.Background(), audioInput())
	if err == nil || job.Error != processingFailed {
		t.Fatalf("expected %q, got job=%+v err=%v", processingFailed, job, err)
	}
}

func TestRunStopsPollingOnProcessed(t *testing.T) {
	fb := &fakeBackend{
		processStatus: "processing",
		statuses: []backend.StatusResult{
			{ProcessingStatus: "processing"},
			{ProcessingStatus: "processing"},
			{ProcessingStatus: "processed"},
		},
	}
	job, err := New(fb, fastOptions(), nil).Run(context.Background(), audioInput())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Polls != 3 || atomic.LoadInt32(&fb.statusCalls) != 3 {
		t.Fatalf("expected exactly 3 polls, job=%d calls=%d", job.Polls, fb.statusCalls)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("unexpected status %s", job.Status)
	}
}

func TestRunPollLimit(t *testing.T) {
	fb := &fakeBackend{processStatus: "processing"}
	opts := fastOptions()
	opts.MaxPolls = 4
	job, err := New(fb, opts, nil).Run(context.Background(), audioInput())
	if !errors.Is(err, ErrPollLimit) {
		t.Fatalf("expected ErrPollLimit, got %v", err)
	}
	if job.Status != models.JobError || atomic.LoadInt32(&fb.statusCalls) != 4 {
		t.Fatalf("unexpected job %+v after %d calls", job, fb.statusCalls)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	fb := &fakeBackend{processStatus: "processing", blockStatus: true}
	c := New(fb, fastOptions(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), audioInput())
		done <- err
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&fb.statusCalls) > 0 })

	if _, err := c.Run(context.Background(), audioInput()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	c.Cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if snap := c.Snapshot(); snap.Status != models.JobError || snap.Error != "cancelled" {
		t.Fatalf("unexpected snapshot after cancel %+v", snap)
	}
}

func TestCancelBeforeRun(t *testing.T) {
	fb := &fakeBackend{processStatus: "completed"}
	c := New(fb, fastOptions(), nil)
	c.Cancel()
	job, err := c.Run(context.Background(), audioInput())
	if !errors.Is(err, ErrCancelled) || job.Error != "cancelled" {
		t.Fatalf("expected cancelled run, got job=%+v err=%v", job, err)
	}
}

func TestDocumentBranchIsIndependent(t *testing.T) {
	fb := &fakeBackend{processStatus: "completed", docErr: errors.New("pdf rejected"), docDelay: 5 * time.Millisecond}
	c := New(fb, fastOptions(), nil)

	in := audioInput()
	doc := BytesFile("tema1.pdf", []byte("%PDF"))
	in.Document = &doc
	job, err := c.Run(context.Background(), in)
	if err == nil || err.Error() != "pdf rejected" {
		t.Fatalf("expected document error to be returned, got %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("audio branch should complete regardless, got %s", job.Status)
	}
	if job.Document == nil || job.Document.Status != models.DocumentError || job.Document.Error != "pdf rejected" {
		t.Fatalf("unexpected document state %+v", job.Document)
	}
}

func TestDocumentBranchSuccess(t *testing.T) {
	fb := &fakeBackend{processStatus: "completed"}
	in := audioInput()
	doc := BytesFile("tema1.pdf", []byte("%PDF"))
	in.Document = &doc
	job, err := New(fb, fastOptions(), nil).Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Document.Status != models.DocumentCompleted || job.Document.Progress != 100 || job.Document.Message != "indexed" {
		t.Fatalf("unexpected document state %+v", job.Document)
	}
}

func TestRunRequiresAudio(t *testing.T) {
	if _, err := New(&fakeBackend{}, fastOptions(), nil).Run(context.Background(), Input{}); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestPollerDeadline(t *testing.T) {
	p := Poller{Interval: time.Millisecond, Deadline: 20 * time.Millisecond}
	_, err := p.Run(context.Background(), func(context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, ErrPollLimit) {
		t.Fatalf("expected ErrPollLimit on deadline, got %v", err)
	}
}

func TestRunAbortsOnStatusError(t *testing.T) {
	fb := &fakeBackend{processStatus: "processing", statusErr: errors.New("audio status: backend unavailable")}
	job, err := New(fb, fastOptions(), nil).Run(context.Background(), audioInput())
	if err == nil || err.Error() != "audio status: backend unavailable" {
		t.Fatalf("expected status error, got %v", err)
	}
	if job.Status != models.JobError || job.Error != "audio status: backend unavailable" {
		t.Fatalf("unexpected job %+v", job)
	}
	if n := atomic.LoadInt32(&fb.statusCalls); n != 1 {
		t.Fatalf("expected polling to stop after first error, got %d calls", n)
	}
	if atomic.LoadInt32(&fb.transcribed) != 0 {
		t.Fatal("transcription must not run after a status error")
	}
}

func TestPollerDeadlineDuringCheck(t *testing.T) {
	p := Poller{Interval: 10 * time.Millisecond, Deadline: 50 * time.Millisecond}
	_, err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	if !errors.Is(err, ErrPollLimit) {
		t.Fatalf("expected ErrPollLimit when the deadline hits an in-flight check, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
