package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tutorly/internal/auth"
	"tutorly/internal/logging"
)

const stateCookieTTL = 600

func (h *Handler) login(c *gin.Context) {
	identity := h.auth.Identity()
	if identity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": auth.ErrIdentityDisabled.Error()})
		return
	}
	state, err := h.auth.NewState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue state failed"})
		return
	}
	setCookie(c, &http.Cookie{
		Name:     h.auth.StateCookieName(),
		Value:    state,
		MaxAge:   stateCookieTTL,
		Path:     "/api/auth",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, identity.AuthCodeURL(state))
}

func (h *Handler) callback(c *gin.Context) {
	identity := h.auth.Identity()
	if identity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": auth.ErrIdentityDisabled.Error()})
		return
	}
	if e := c.Query("error"); e != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": e, "title": "Sign-in failed"})
		return
	}
	expected, err := c.Cookie(h.auth.StateCookieName())
	if err != nil || expected == "" || expected != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	ctx := c.Request.Context()
	tok, err := identity.Exchange(ctx, code)
	if err != nil {
		logging.L().WithError(err).Warn("identity exchange failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign-in failed", "title": "Sign-in failed"})
		return
	}
	userID, err := identity.UserID(tok)
	if err != nil {
		logging.L().WithError(err).Warn("identity token rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign-in failed", "title": "Sign-in failed"})
		return
	}
	sessionToken, err := h.auth.IssueSession(ctx, userID, tok)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue session failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue session failed"})
		return
	}
	setCookie(c, &http.Cookie{Name: h.auth.StateCookieName(), Value: "", MaxAge: -1, Path: "/api/auth"})
	h.setAuthCookies(c, sessionToken, csrfToken)
	logging.WithUser(userID).Info("signed in")
	c.JSON(http.StatusOK, gin.H{
		"user_id":    userID,
		"auth_token": sessionToken,
		"csrf_token": csrfToken,
	})
}

// logout revokes the session, cancels the user's jobs and drops editor state.
func (h *Handler) logout(c *gin.Context) {
	session, ok := auth.SessionFromGin(c)
	if ok {
		if err := h.auth.RevokeSession(c.Request.Context(), session.Token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
		h.jobs.ResetUser(session.UserID)
		h.notes.Forget(session.UserID)
		logging.WithUser(session.UserID).Info("signed out")
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}
