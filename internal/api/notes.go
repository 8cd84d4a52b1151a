package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorly/internal/auth"
	"tutorly/internal/notes"
)

func (h *Handler) listNotes(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	names, err := h.notes.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "Error loading notes", err)
		return
	}
	if names == nil {
		names = make([]string, 0)
	}
	c.JSON(http.StatusOK, gin.H{"notes": names})
}

func (h *Handler) previewNote(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"html": notes.Render(req.Content)})
}

// selectNote loads a note into the user's editor and leaves edit mode.
func (h *Handler) selectNote(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	view, err := h.notes.Editor(userID).Select(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, "Error loading note", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": view})
}

// editor returns the user's editor with the named note selected.
func (h *Handler) editor(c *gin.Context) (*notes.Editor, bool) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return nil, false
	}
	ed := h.notes.Editor(userID)
	if _, err := ed.Ensure(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, "Error loading note", err)
		return nil, false
	}
	return ed, true
}

func (h *Handler) toggleEdit(c *gin.Context) {
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	view, err := ed.ToggleEdit()
	if err != nil {
		respondError(c, "Error editing note", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": view})
}

func (h *Handler) setDraft(c *gin.Context) {
	var req struct {
		Content *string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	view, err := ed.SetDraft(*req.Content)
	if err != nil {
		respondError(c, "Error editing note", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": view})
}

func (h *Handler) saveNote(c *gin.Context) {
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	view, err := ed.Save(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, notes.ErrNothingToSave):
			status = http.StatusBadRequest
		case errors.Is(err, auth.ErrNotAuthenticated):
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"title": "Error saving", "error": err.Error(), "note": view})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"note":   view,
		"notice": gin.H{"title": "Saved", "message": "The note was updated."},
	})
}

func (h *Handler) downloadNote(c *gin.Context) {
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	name, data, err := ed.Download()
	if err != nil {
		respondError(c, "Error downloading note", err)
		return
	}
	attachment(c, name, "text/markdown; charset=utf-8", data)
}
