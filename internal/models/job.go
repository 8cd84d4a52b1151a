package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the audio branch state of a workflow run.
type JobStatus string

const (
	JobIdle         JobStatus = "idle"
	JobUploading    JobStatus = "uploading"
	JobProcessing   JobStatus = "processing"
	JobTranscribing JobStatus = "transcribing"
	JobCompleted    JobStatus = "completed"
	JobError        JobStatus = "error"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// DocumentStatus is the document branch state of a workflow run.
type DocumentStatus string

const (
	DocumentIdle      DocumentStatus = "idle"
	DocumentUploading DocumentStatus = "uploading"
	DocumentCompleted DocumentStatus = "completed"
	DocumentError     DocumentStatus = "error"
)

func (s DocumentStatus) Terminal() bool {
	return s == DocumentCompleted || s == DocumentError
}

// Notification is a transient user-facing message.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// DocumentUpload tracks the optional supporting document of a run.
type DocumentUpload struct {
	Name     string         `json:"name"`
	Status   DocumentStatus `json:"status"`
	Progress int            `json:"progress"`
	Error    string         `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
	Notice   *Notification  `json:"notice,omitempty"`
}

// AudioJob is a snapshot of one upload -> process -> transcribe run.
type AudioJob struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	AudioID       string          `json:"audio_id,omitempty"`
	Status        JobStatus       `json:"status"`
	Progress      int             `json:"progress"`
	Error         string          `json:"error,omitempty"`
	UseFallback   bool            `json:"use_fallback"`
	Polls         int             `json:"polls,omitempty"`
	Transcription json.RawMessage `json:"transcription,omitempty"`
	Document      *DocumentUpload `json:"document,omitempty"`
	Notice        *Notification   `json:"notice,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Active reports whether any branch of the run is still in flight.
func (j AudioJob) Active() bool {
	if !j.Status.Terminal() {
		return true
	}
	return j.Document != nil && !j.Document.Status.Terminal()
}

// Clone returns a copy that shares no mutable state with j.
func (j AudioJob) Clone() AudioJob {
	if j.Document != nil {
		doc := *j.Document
		j.Document = &doc
	}
	return j
}

// ProcessParams are the fixed audio processing parameters sent to the backend.
type ProcessParams struct {
	TargetSR         int     `json:"target_sr"`
	GainDB           float64 `json:"gain_db"`
	SegmentMin       int     `json:"segment_min"`
	OverlapSec       int     `json:"overlap_sec"`
	DoNoiseReduction bool    `json:"do_noise_reduction"`
	DoSegmentation   bool    `json:"do_segmentation"`
}

// DefaultProcessParams returns 16 kHz, +5 dB, 15 minute segments with 30 s
// overlap, noise reduction and segmentation enabled.
func DefaultProcessParams() ProcessParams {
	return ProcessParams{
		TargetSR:         16000,
		GainDB:           5,
		SegmentMin:       15,
		OverlapSec:       30,
		DoNoiseReduction: true,
		DoSegmentation:   true,
	}
}
