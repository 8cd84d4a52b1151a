package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"tutorly/internal/models"
)

// Processing statuses reported by the backend.
const (
	StatusCompleted = "completed"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// ProcessingDone reports a terminal success status.
func ProcessingDone(status string) bool {
	return status == StatusCompleted || status == StatusProcessed
}

type UploadResult struct {
	AudioID string `json:"audio_id"`
	Message string `json:"message,omitempty"`
}

type StatusResult struct {
	ProcessingStatus string `json:"processing_status"`
	Error            string `json:"error,omitempty"`
}

type DocumentResult struct {
	Message string `json:"message,omitempty"`
}

// Health pings the backend. It is the only unauthenticated call.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil, "", false)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := decodeBody(resp, "health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadAudio sends the audio as multipart field "file".
func (c *Client) UploadAudio(ctx context.Context, file Upload) (*UploadResult, error) {
	if file.Body == nil {
		return nil, errors.New("upload audio: file required")
	}
	var out UploadResult
	if err := c.multipartJSON(ctx, "upload audio", "/api/audio/upload", []formField{{"file", file}}, &out); err != nil {
		return nil, err
	}
	if out.AudioID == "" {
		return nil, errors.New("upload audio: response has no audio_id")
	}
	return &out, nil
}

func (c *Client) AudioStatus(ctx context.Context, audioID string) (*StatusResult, error) {
	var out StatusResult
	if err := c.doJSON(ctx, "audio status", http.MethodGet, "/api/audio/status/"+url.PathEscape(audioID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessAudio starts processing with params and returns the immediate status.
func (c *Client) ProcessAudio(ctx context.Context, audioID string, params models.ProcessParams) (*StatusResult, error) {
	var out StatusResult
	if err := c.doJSON(ctx, "process audio", http.MethodPost, "/api/audio/process/"+url.PathEscape(audioID), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TranscribeAudio returns the backend's transcription result unchanged.
func (c *Client) TranscribeAudio(ctx context.Context, audioID string, useFallback bool) (json.RawMessage, error) {
	path := "/api/audio/transcribe/" + url.PathEscape(audioID) + "?use_fallback=" + strconv.FormatBool(useFallback)
	var out json.RawMessage
	if err := c.doJSON(ctx, "transcribe audio", http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CleanupAudio(ctx context.Context, audioID string) error {
	return c.doJSON(ctx, "cleanup audio", http.MethodDelete, "/api/audio/cleanup/"+url.PathEscape(audioID), nil, nil)
}

// UploadDocument sends a supporting document as multipart field "pdfFile".
func (c *Client) UploadDocument(ctx context.Context, file Upload) (*DocumentResult, error) {
	if file.Body == nil {
		return nil, errors.New("upload document: file required")
	}
	var out DocumentResult
	if err := c.multipartJSON(ctx, "upload document", "/api/vector-db/upload-pdf", []formField{{"pdfFile", file}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAudio accepts a bare array or an object wrapping it under "audios".
func (c *Client) ListAudio(ctx context.Context) ([]models.AudioEntry, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "list audio", http.MethodGet, "/api/audio/list", nil, &raw); err != nil {
		return nil, err
	}
	var list []models.AudioEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Audios []models.AudioEntry `json:"audios"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("list audio: decode response: %w", err)
	}
	return wrapped.Audios, nil
}

func (c *Client) GetTranscription(ctx context.Context, audioID string) (*models.Transcription, error) {
	var out models.Transcription
	if err := c.doJSON(ctx, "get transcription", http.MethodGet, "/api/audio/"+url.PathEscape(audioID)+"/transcription", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
