package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"tutorly/internal/config"
)

// ErrIdentityDisabled is returned by login endpoints when no provider is configured.
var ErrIdentityDisabled = errors.New("identity provider not configured")

// Identity talks to the external OAuth2 identity provider.
type Identity struct {
	oauth   *oauth2.Config
	claim   string
	keyFunc jwt.Keyfunc
	methods []string
}

// NewIdentity builds the provider client. It returns ErrIdentityDisabled when
// no client id is configured.
func NewIdentity(cfg config.IdentityConfig) (*Identity, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrIdentityDisabled
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("identity auth_url and token_url are required")
	}
	id := &Identity{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		claim: cfg.UserIDClaim,
	}
	if id.claim == "" {
		id.claim = "sub"
	}

	switch {
	case cfg.JWTPublicKeyFile != "":
		pem, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		id.keyFunc = func(*jwt.Token) (interface{}, error) { return key, nil }
		id.methods = []string{"RS256", "RS384", "RS512"}
	case cfg.JWTSecret != "":
		secret := []byte(cfg.JWTSecret)
		id.keyFunc = func(*jwt.Token) (interface{}, error) { return secret, nil }
		id.methods = []string{"HS256", "HS384", "HS512"}
	}
	return id, nil
}

// AuthCodeURL is where the browser is sent to sign in.
func (i *Identity) AuthCodeURL(state string) string {
	return i.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token set.
func (i *Identity) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := i.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// Refresh returns a valid token, contacting the provider when tok has expired.
func (i *Identity) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := i.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return fresh, nil
}

// UserID reads the user id claim from the id token, or from the access
// token when the provider issues JWT access tokens only.
func (i *Identity) UserID(tok *oauth2.Token) (string, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		raw = tok.AccessToken
	}
	return i.subject(raw)
}

func (i *Identity) subject(raw string) (string, error) {
	claims := jwt.MapClaims{}
	var err error
	if i.keyFunc != nil {
		_, err = jwt.ParseWithClaims(raw, claims, i.keyFunc, jwt.WithValidMethods(i.methods))
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(raw, claims)
	}
	if err != nil {
		return "", fmt.Errorf("parse identity token: %w", err)
	}
	sub, _ := claims[i.claim].(string)
	if sub == "" {
		return "", fmt.Errorf("identity token has no %q claim", i.claim)
	}
	return sub, nil
}
