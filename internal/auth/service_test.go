package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"tutorly/internal/config"
	"tutorly/internal/storage"
)

func TestSessionIssueValidateRevoke(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, nil, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueSession(ctx, "user-1", &oauth2.Token{AccessToken: "access-1"})
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}
	session, err := svc.ValidateSession(ctx, token)
	if err != nil || session.UserID != "user-1" {
		t.Fatalf("ValidateSession failed: session=%+v err=%v", session, err)
	}
	if err := svc.RevokeSession(ctx, token); err != nil {
		t.Fatalf("RevokeSession error: %v", err)
	}
	if _, err := svc.ValidateSession(ctx, token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated after revoke, got %v", err)
	}

	token2, err := svc.IssueSession(ctx, "user-1", &oauth2.Token{AccessToken: "access-2"})
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}
	if err := svc.RevokeUserSessions(ctx, "user-1"); err != nil {
		t.Fatalf("RevokeUserSessions error: %v", err)
	}
	if _, err := svc.ValidateSession(ctx, token2); err == nil {
		t.Fatalf("expected error after revoke all")
	}
}

func TestSessionExpiredIsPurged(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, nil, 10*time.Millisecond)

	token, err := svc.IssueSession(context.Background(), "user-2", &oauth2.Token{AccessToken: "a"})
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateSession(context.Background(), token); err == nil {
		t.Fatalf("expected expiration error")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_sessions WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired session not purged")
	}
}

func TestTokensEncryptedAtRest(t *testing.T) {
	t.Setenv(tokenKeyEnv, "0123456789abcdef0123456789abcdef")
	db := openTestDB(t)
	svc := newTestService(t, db, nil, time.Hour)

	token, err := svc.IssueSession(context.Background(), "user-3", &oauth2.Token{AccessToken: "secret-access", RefreshToken: "secret-refresh"})
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}
	var stored string
	if err := db.QueryRow(`SELECT access_token FROM user_sessions WHERE token = ?`, token).Scan(&stored); err != nil {
		t.Fatalf("query: %v", err)
	}
	if stored == "secret-access" {
		t.Fatalf("access token stored in plaintext")
	}
	tok, err := svc.loadToken(context.Background(), token)
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if tok.AccessToken != "secret-access" || tok.RefreshToken != "secret-refresh" {
		t.Fatalf("unexpected decrypted token %+v", tok)
	}
}

func TestSealedTokenBoundToSession(t *testing.T) {
	t.Setenv(tokenKeyEnv, "0123456789abcdef0123456789abcdef")
	c, err := newTokenCipherFromEnv()
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	sealed, err := c.seal("secret", "session-a")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if got, err := c.open(sealed, "session-a"); err != nil || got != "secret" {
		t.Fatalf("open with owner: %q %v", got, err)
	}
	if _, err := c.open(sealed, "session-b"); !errors.Is(err, errInvalidCiphertext) {
		t.Fatalf("expected errInvalidCiphertext for another session, got %v", err)
	}
	if got, err := c.open("legacy-plain", "session-a"); err != nil || got != "legacy-plain" {
		t.Fatalf("unsealed value should pass through: %q %v", got, err)
	}
	var none *tokenCipher
	if _, err := none.open(sealed, "session-a"); !errors.Is(err, errInvalidCiphertext) {
		t.Fatalf("sealed value without key should fail, got %v", err)
	}
}

func TestHeadersRequireSession(t *testing.T) {
	_, err := HeaderProvider{}.Headers(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestHeadersFetchTokenPerCall(t *testing.T) {
	var calls int32
	src := tokenFunc(func() (*oauth2.Token, error) {
		n := atomic.AddInt32(&calls, 1)
		return &oauth2.Token{AccessToken: "tok-" + string(rune('0'+n))}, nil
	})
	ctx := WithSession(context.Background(), NewSession("s", "user-9", src))

	h1, err := HeaderProvider{}.Headers(ctx)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	h2, err := HeaderProvider{}.MultipartHeaders(ctx)
	if err != nil {
		t.Fatalf("MultipartHeaders: %v", err)
	}
	if h1.Get("Authorization") != "Bearer tok-1" || h2.Get("Authorization") != "Bearer tok-2" {
		t.Fatalf("token not fetched per call: %q %q", h1.Get("Authorization"), h2.Get("Authorization"))
	}
	if h1.Get("X-User-ID") != "user-9" || h1.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected json headers %v", h1)
	}
	if h2.Get("Content-Type") != "" {
		t.Fatalf("multipart headers must not set content type, got %q", h2.Get("Content-Type"))
	}
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	secret := "jwt-secret"
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("unexpected token request %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-fresh",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	identity, err := NewIdentity(config.IdentityConfig{
		ClientID:  "client",
		AuthURL:   tokenServer.URL + "/auth",
		TokenURL:  tokenServer.URL + "/token",
		JWTSecret: secret,
	})
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	db := openTestDB(t)
	svc, err := NewService(db, nil, identity, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	sessionToken, err := svc.IssueSession(context.Background(), "user-4", &oauth2.Token{
		AccessToken:  "access-old",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	session, err := svc.ValidateSession(context.Background(), sessionToken)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	h, err := HeaderProvider{}.Headers(WithSession(context.Background(), session))
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if h.Get("Authorization") != "Bearer access-fresh" {
		t.Fatalf("expected refreshed token, got %q", h.Get("Authorization"))
	}
	stored, err := svc.loadToken(context.Background(), sessionToken)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AccessToken != "access-fresh" || stored.RefreshToken != "refresh-1" {
		t.Fatalf("refreshed token not persisted: %+v", stored)
	}
}

func TestIdentityUserIDFromVerifiedJWT(t *testing.T) {
	identity, err := NewIdentity(config.IdentityConfig{
		ClientID:  "client",
		AuthURL:   "http://idp/auth",
		TokenURL:  "http://idp/token",
		JWTSecret: "s3cret",
	})
	if err != nil {
		t.Fatal(err)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alumno-7"}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	userID, err := identity.UserID(&oauth2.Token{AccessToken: signed})
	if err != nil || userID != "alumno-7" {
		t.Fatalf("UserID = %q, %v", userID, err)
	}

	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("other"))
	if _, err := identity.UserID(&oauth2.Token{AccessToken: forged}); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestNewIdentityDisabledWithoutClient(t *testing.T) {
	if _, err := NewIdentity(config.IdentityConfig{}); !errors.Is(err, ErrIdentityDisabled) {
		t.Fatalf("expected ErrIdentityDisabled, got %v", err)
	}
}

type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) { return f() }

func newTestService(t *testing.T, db *sql.DB, identity *Identity, ttl time.Duration) *Service {
	t.Helper()
	svc, err := NewService(db, nil, identity, ttl)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open("sqlite3", config.DatabaseConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
