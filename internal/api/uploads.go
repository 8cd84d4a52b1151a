package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tutorly/internal/artifacts"
	"tutorly/internal/auth"
	"tutorly/internal/logging"
	"tutorly/internal/media"
	"tutorly/internal/models"
	"tutorly/internal/worker"
	"tutorly/internal/workflow"
)

// upload receives an audio file and an optional supporting document and
// queues the upload -> process -> transcribe workflow.
func (h *Handler) upload(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	audioHeader, err := formFile(c, "audio", "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	docHeader, _ := formFile(c, "document", "pdfFile")
	useFallback, _ := strconv.ParseBool(c.PostForm("use_fallback"))

	dir := filepath.Join(h.uploadDir, artifacts.SafeName(userID), uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prepare upload dir failed"})
		return
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.WithUser(userID).WithError(err).Warn("remove upload dir")
		}
	}

	audioPath, err := h.saveUpload(c, audioHeader, dir)
	if err != nil {
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	audioInfo, err := media.InspectAudio(audioHeader.Filename, audioPath)
	if err != nil {
		cleanup()
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error(), "title": "Error processing audio"})
		return
	}
	audio := workflow.DiskFile(audioHeader.Filename, audioPath)
	input := workflow.Input{Audio: &audio, UseFallback: useFallback}

	resp := gin.H{"audio": audioInfo}
	if docHeader != nil {
		docPath, err := h.saveUpload(c, docHeader, dir)
		if err != nil {
			cleanup()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
			return
		}
		docInfo, err := media.InspectDocument(docHeader.Filename, docPath)
		if err != nil {
			cleanup()
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error(), "title": "Error uploading document"})
			return
		}
		doc := workflow.DiskFile(docHeader.Filename, docPath)
		input.Document = &doc
		resp["document"] = docInfo
	}

	job, err := h.jobs.Start(worker.StartRequest{
		Context: auth.Detach(c.Request.Context()),
		UserID:  userID,
		Input:   input,
		Cleanup: cleanup,
	})
	if err != nil {
		cleanup()
		respondError(c, "Error processing audio", err)
		return
	}
	resp["job"] = job
	c.JSON(http.StatusAccepted, resp)
}

func formFile(c *gin.Context, names ...string) (*multipart.FileHeader, error) {
	var lastErr error
	for _, name := range names {
		fh, err := c.FormFile(name)
		if err == nil {
			return fh, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (h *Handler) saveUpload(c *gin.Context, fh *multipart.FileHeader, dir string) (string, error) {
	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid filename %q", fh.Filename)
	}
	path := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		return "", err
	}
	return path, nil
}

func (h *Handler) listJobs(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	jobs := h.jobs.List(userID)
	if jobs == nil {
		jobs = make([]models.AudioJob, 0)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) getJob(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(userID, c.Param("job_id"))
	if err != nil {
		respondError(c, "Job not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (h *Handler) cancelJob(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.jobs.Cancel(userID, c.Param("job_id")); err != nil {
		respondError(c, "Job not found", err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) watchJob(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(userID, c.Param("job_id"))
	if err != nil {
		respondError(c, "Job not found", err)
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, job); err != nil {
		logging.WithUser(userID).WithError(err).Debug("websocket upgrade failed")
	}
}

func (h *Handler) cleanupAudio(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.audio.CleanupAudio(c.Request.Context(), c.Param("audio_id")); err != nil {
		respondError(c, "Error deleting audio", err)
		return
	}
	h.guides.InvalidateAudioList(c.Request.Context(), userID)
	c.Status(http.StatusNoContent)
}
