package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey  = "auth_user_id"
	sessionContextKey = "auth_session"
)

// Middleware validates the session token, stores the session in the gin
// context and attaches it to the request context for outbound calls.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionToken := s.extractToken(c)
		if sessionToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		session, err := s.ValidateSession(c.Request.Context(), sessionToken)
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, ErrNotAuthenticated) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(userIDContextKey, session.UserID)
		c.Set(sessionContextKey, session)
		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), session))
		c.Next()
	}
}

// Optional resolves the session when one is presented but never aborts.
func (s *Service) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessionToken := s.extractToken(c); sessionToken != "" {
			if session, err := s.ValidateSession(c.Request.Context(), sessionToken); err == nil {
				c.Set(userIDContextKey, session.UserID)
				c.Set(sessionContextKey, session)
				c.Request = c.Request.WithContext(WithSession(c.Request.Context(), session))
			}
		}
		c.Next()
	}
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok
}

// SessionFromGin retrieves the session captured by the middleware.
func SessionFromGin(c *gin.Context) (*Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := val.(*Session)
	return session, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
