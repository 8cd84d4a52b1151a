package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorly/internal/logging"
	"tutorly/internal/studyguide"
)

type audioItem struct {
	AudioID      string `json:"audioId"`
	OriginalName string `json:"originalName,omitempty"`
	Filename     string `json:"filename,omitempty"`
	DisplayName  string `json:"display_name"`
}

func (h *Handler) listTranscriptions(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	entries, err := h.guides.ListAudio(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "Error loading transcriptions", err)
		return
	}
	items := make([]audioItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, audioItem{
			AudioID:      e.AudioID,
			OriginalName: e.OriginalName,
			Filename:     e.Filename,
			DisplayName:  e.DisplayName(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"audios": items})
}

func (h *Handler) getTranscription(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	audioID := c.Param("audio_id")
	tr, err := h.guides.Transcription(c.Request.Context(), userID, audioID)
	if err != nil {
		respondError(c, "Error loading transcription", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"audio_id":      audioID,
		"text":          tr.DisplayText(),
		"transcription": tr,
	})
}

// exportTranscription downloads the transcription text named after the
// original upload.
func (h *Handler) exportTranscription(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	audioID := c.Param("audio_id")
	tr, err := h.guides.Transcription(ctx, userID, audioID)
	if err != nil {
		respondError(c, "Error exporting transcription", err)
		return
	}
	name := audioID
	if entries, err := h.guides.ListAudio(ctx, userID); err != nil {
		logging.WithUser(userID).WithError(err).Debug("export: audio list unavailable, naming by id")
	} else {
		for _, e := range entries {
			if e.AudioID == audioID {
				name = e.DisplayName()
				break
			}
		}
	}
	attachment(c, name+".txt", "text/plain; charset=utf-8", []byte(tr.DisplayText()))
}

// generateStudyGuide runs schema then notes generation and streams the
// resulting file back as a download.
func (h *Handler) generateStudyGuide(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if q := c.Query("mode"); q != "" {
		req.Mode = q
	}
	mode, err := studyguide.ParseMode(req.Mode)
	if err != nil {
		respondError(c, "Error generating study guide", err)
		return
	}
	res, err := h.guides.Generate(c.Request.Context(), userID, c.Param("audio_id"), mode)
	if err != nil {
		respondError(c, "Error generating study guide", err)
		return
	}
	if res.Location != "" {
		c.Header("X-Artifact-Location", res.Location)
	}
	c.Header("X-Study-Guide-Mode", string(res.Mode))
	ct := res.File.ContentType
	if ct == "" {
		ct = "text/markdown; charset=utf-8"
	}
	attachment(c, res.File.Name, ct, res.File.Data)
}
