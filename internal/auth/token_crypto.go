package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const tokenKeyEnv = "TUTORLY_TOKEN_KEY"

var errInvalidCiphertext = errors.New("invalid token ciphertext")

// tokenCipher seals identity provider tokens before they reach the database.
type tokenCipher struct {
	aead cipher.AEAD
}

// newTokenCipherFromEnv returns nil without error when no key is configured.
func newTokenCipherFromEnv() (*tokenCipher, error) {
	raw := strings.TrimSpace(os.Getenv(tokenKeyEnv))
	if raw == "" {
		return nil, nil
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tokenKeyEnv, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &tokenCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

// sealedPrefix marks values written by seal. Rows without it predate the
// key and are returned as stored.
const sealedPrefix = "v1:"

// seal encrypts plain bound to the session token, so a value copied onto
// another session row no longer opens.
func (c *tokenCipher) seal(plain, session string) (string, error) {
	if c == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), []byte(session))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *tokenCipher) open(input, session string) (string, error) {
	if input == "" || !strings.HasPrefix(input, sealedPrefix) {
		return input, nil
	}
	if c == nil {
		return "", fmt.Errorf("%w: %s not set", errInvalidCiphertext, tokenKeyEnv)
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(input, sealedPrefix))
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], []byte(session))
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
