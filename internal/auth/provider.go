package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned when no identity session is active.
var ErrNotAuthenticated = errors.New("user not authenticated")

// Session is an authenticated gateway session.
type Session struct {
	Token  string
	UserID string
	tokens oauth2.TokenSource
}

// NewSession builds a session around an arbitrary token source.
func NewSession(sessionToken, userID string, tokens oauth2.TokenSource) *Session {
	return &Session{Token: sessionToken, UserID: userID, tokens: tokens}
}

type sessionKey struct{}

// WithSession attaches the session to ctx so outbound backend calls can
// authenticate on the user's behalf.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// Detach keeps the session of ctx but drops its deadline and cancellation.
func Detach(ctx context.Context) context.Context {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return context.Background()
	}
	return WithSession(context.Background(), s)
}

// HeaderProvider produces the headers every backend call carries.
type HeaderProvider struct{}

// Headers returns Authorization, X-User-ID and a JSON content type. The token
// is requested from the session's source on every call.
func (HeaderProvider) Headers(ctx context.Context) (http.Header, error) {
	h, err := identityHeaders(ctx)
	if err != nil {
		return nil, err
	}
	h.Set("Content-Type", "application/json")
	return h, nil
}

// MultipartHeaders is Headers without Content-Type so the multipart writer
// can supply its boundary.
func (HeaderProvider) MultipartHeaders(ctx context.Context) (http.Header, error) {
	return identityHeaders(ctx)
}

func identityHeaders(ctx context.Context) (http.Header, error) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.UserID == "" || s.tokens == nil {
		return nil, ErrNotAuthenticated
	}
	tok, err := s.tokens.Token()
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	h.Set("X-User-ID", s.UserID)
	return h, nil
}
