package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tutorly/internal/auth"
	"tutorly/internal/backend"
	"tutorly/internal/models"
	"tutorly/internal/notes"
	"tutorly/internal/studyguide"
	"tutorly/internal/worker"
	"tutorly/internal/workflow"
	"tutorly/internal/ws"
)

const defaultMaxUploadBytes = 200 << 20

// JobManager schedules workflow runs and reports their state.
type JobManager interface {
	Start(req worker.StartRequest) (models.AudioJob, error)
	Get(userID, jobID string) (models.AudioJob, error)
	List(userID string) []models.AudioJob
	Cancel(userID, jobID string) error
	ResetUser(userID string)
}

// AudioCleaner removes a processed audio from the backend.
type AudioCleaner interface {
	CleanupAudio(ctx context.Context, audioID string) error
}

// Deps groups what the handlers need.
type Deps struct {
	Auth           *auth.Service
	Jobs           JobManager
	Hub            *ws.Hub
	Notes          *notes.Service
	Guides         *studyguide.Generator
	Audio          AudioCleaner
	UploadDir      string
	MaxUploadBytes int64
}

// Handler wires HTTP routes to the workflow, notes and study-guide services.
type Handler struct {
	auth      *auth.Service
	jobs      JobManager
	hub       *ws.Hub
	notes     *notes.Service
	guides    *studyguide.Generator
	audio     AudioCleaner
	uploadDir string
	maxUpload int64
	started   time.Time
}

func NewHandler(d Deps) *Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		auth:      d.Auth,
		jobs:      d.Jobs,
		hub:       d.Hub,
		notes:     d.Notes,
		guides:    d.Guides,
		audio:     d.Audio,
		uploadDir: d.UploadDir,
		maxUpload: d.MaxUploadBytes,
		started:   time.Now(),
	}
}

// RegisterRoutes attaches all HTTP routes to the router. Every tab route
// requires a session; health, me and the login flow do not.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.GET("/me", h.auth.Optional(), h.me)
	api.GET("/auth/login", h.login)
	api.GET("/auth/callback", h.callback)
	api.POST("/auth/logout", h.auth.Optional(), h.logout)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())

	authed.POST("/uploads", h.upload)
	authed.GET("/jobs", h.listJobs)
	authed.GET("/jobs/:job_id", h.getJob)
	authed.DELETE("/jobs/:job_id", h.cancelJob)
	authed.GET("/jobs/:job_id/ws", h.watchJob)
	authed.DELETE("/audio/:audio_id", h.cleanupAudio)

	authed.GET("/transcriptions", h.listTranscriptions)
	authed.GET("/transcriptions/:audio_id", h.getTranscription)
	authed.GET("/transcriptions/:audio_id/export", h.exportTranscription)
	authed.POST("/transcriptions/:audio_id/study-guide", h.generateStudyGuide)

	authed.GET("/notes", h.listNotes)
	authed.POST("/notes/preview", h.previewNote)
	authed.GET("/notes/:name", h.selectNote)
	authed.POST("/notes/:name/edit", h.toggleEdit)
	authed.PUT("/notes/:name/draft", h.setDraft)
	authed.POST("/notes/:name/save", h.saveNote)
	authed.GET("/notes/:name/download", h.downloadNote)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) me(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"signed_in": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed_in": true, "user_id": userID})
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

// respondError maps service errors onto a status and a notification body.
func respondError(c *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"title": title, "error": err.Error()}

	var apiErr *backend.APIError
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		body["error"] = apiErr.Message
		body["backend_status"] = apiErr.StatusCode
	case errors.Is(err, workflow.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, worker.ErrDispatcherBusy):
		status = http.StatusTooManyRequests
		body["error"] = "server is busy, please retry"
	case errors.Is(err, worker.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrNoAudio),
		errors.Is(err, notes.ErrNothingToSave),
		errors.Is(err, studyguide.ErrUnknownMode),
		errors.Is(err, studyguide.ErrEmptyTranscript):
		status = http.StatusBadRequest
	case errors.Is(err, notes.ErrNoSelection), errors.Is(err, notes.ErrNotEditing):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, body)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.SessionTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

func attachment(c *gin.Context, name, contentType string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, contentType, data)
}
