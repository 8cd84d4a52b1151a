package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"tutorly/internal/logging"
	"tutorly/internal/redis"
	"tutorly/internal/storage"
)

const redisSessionPrefix = "auth:session:"

// Service issues, validates, and revokes gateway sessions. Each session maps a
// browser cookie to the identity provider token set of one user.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	identity       *Identity
	cipher         *tokenCipher
	sessionTTL     time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	stateCookie    string
}

// NewService constructs an auth service. cache and identity are optional.
func NewService(db *sql.DB, cache *redis.Client, identity *Identity, ttl time.Duration) (*Service, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cipher, err := newTokenCipherFromEnv()
	if err != nil {
		return nil, err
	}
	if cipher == nil {
		logging.L().Warnf("%s not set, identity tokens are stored unencrypted", tokenKeyEnv)
	}
	return &Service{
		db:             db,
		cache:          cache,
		identity:       identity,
		cipher:         cipher,
		sessionTTL:     ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		stateCookie:    "oauth_state",
	}, nil
}

// Identity returns the configured provider, or nil.
func (s *Service) Identity() *Identity {
	return s.identity
}

// IssueSession persists the provider token set and returns a new session token.
func (s *Service) IssueSession(ctx context.Context, userID string, tok *oauth2.Token) (string, error) {
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	if tok == nil || tok.AccessToken == "" {
		return "", errors.New("access token required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.sessionTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		access, err := s.cipher.seal(tok.AccessToken, token)
		if err != nil {
			return "", err
		}
		refresh, err := s.cipher.seal(tok.RefreshToken, token)
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_sessions (token, user_id, access_token, refresh_token, token_type, token_expiry, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			token, userID, access, refresh, tok.TokenType, expiryUnix(tok.Expiry), now, expiresAt,
		)
		if err == nil {
			s.cacheSession(ctx, token, userID, s.sessionTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue session")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// NewState returns a random OAuth2 state value.
func (s *Service) NewState() (string, error) {
	return generateToken()
}

// ValidateSession verifies the session exists and has not expired.
func (s *Service) ValidateSession(ctx context.Context, sessionToken string) (*Session, error) {
	if sessionToken == "" {
		return nil, ErrNotAuthenticated
	}
	if userID, ok := s.cachedSession(ctx, sessionToken); ok {
		return s.session(sessionToken, userID), nil
	}

	var userID string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_sessions WHERE token = ?`, sessionToken,
	).Scan(&userID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invalid session", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token = ?`, sessionToken)
		return nil, fmt.Errorf("%w: session expired", ErrNotAuthenticated)
	}
	s.cacheSession(ctx, sessionToken, userID, remaining)
	return s.session(sessionToken, userID), nil
}

// RevokeSession deletes a single session.
func (s *Service) RevokeSession(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token = ?`, sessionToken); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, redisSessionPrefix+sessionToken)
	}
	return nil
}

// RevokeUserSessions removes all sessions belonging to the user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM user_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	var keys []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return fmt.Errorf("scan session: %w", err)
		}
		keys = append(keys, redisSessionPrefix+token)
	}
	rows.Close()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	if s.cache != nil && len(keys) > 0 {
		_ = s.cache.Del(ctx, keys...)
	}
	return nil
}

func (s *Service) session(sessionToken, userID string) *Session {
	return &Session{
		Token:  sessionToken,
		UserID: userID,
		tokens: &sessionTokenSource{svc: s, session: sessionToken},
	}
}

func (s *Service) cacheSession(ctx context.Context, sessionToken, userID string, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, redisSessionPrefix+sessionToken, userID, ttl); err != nil {
		logging.Debugf("cache session: %v", err)
	}
}

func (s *Service) cachedSession(ctx context.Context, sessionToken string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	userID, err := s.cache.Get(ctx, redisSessionPrefix+sessionToken)
	if err != nil || userID == "" {
		return "", false
	}
	return userID, true
}

func (s *Service) loadToken(ctx context.Context, sessionToken string) (*oauth2.Token, error) {
	var (
		access, refresh, tokenType string
		expiry                     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, token_expiry FROM user_sessions WHERE token = ?`, sessionToken,
	).Scan(&access, &refresh, &tokenType, &expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session revoked", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	if access, err = s.cipher.open(access, sessionToken); err != nil {
		return nil, err
	}
	if refresh, err = s.cipher.open(refresh, sessionToken); err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: tokenType}
	if expiry > 0 {
		tok.Expiry = time.Unix(expiry, 0)
	}
	return tok, nil
}

func (s *Service) storeToken(ctx context.Context, sessionToken string, tok *oauth2.Token) error {
	access, err := s.cipher.seal(tok.AccessToken, sessionToken)
	if err != nil {
		return err
	}
	refresh, err := s.cipher.seal(tok.RefreshToken, sessionToken)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE user_sessions SET access_token = ?, refresh_token = ?, token_type = ?, token_expiry = ? WHERE token = ?`,
		access, refresh, tok.TokenType, expiryUnix(tok.Expiry), sessionToken,
	)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// sessionTokenSource reads the token set from the store on every call and
// refreshes it through the identity provider once it has expired.
type sessionTokenSource struct {
	svc     *Service
	session string
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tok, err := ts.svc.loadToken(ctx, ts.session)
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}
	if ts.svc.identity == nil || tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: identity token expired", ErrNotAuthenticated)
	}
	fresh, err := ts.svc.identity.Refresh(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := ts.svc.storeToken(ctx, ts.session, fresh); err != nil {
		logging.L().WithError(err).Warn("persist refreshed identity token")
	}
	return fresh, nil
}

func expiryUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing session tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// StateCookieName returns the cookie holding the pending OAuth2 state.
func (s *Service) StateCookieName() string {
	return s.stateCookie
}

// SessionTTL reports the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// StartJanitor periodically deletes expired sessions until ctx is done.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := storage.PurgeExpiredSessions(ctx, s.db, now)
				if err != nil {
					logging.L().WithError(err).Warn("purge expired sessions")
					continue
				}
				if n > 0 {
					logging.Debugf("purged %d expired sessions", n)
				}
			}
		}
	}()
}
