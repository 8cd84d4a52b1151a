package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	storage "github.com/supabase-community/storage-go"

	"tutorly/internal/config"
	"tutorly/internal/logging"
)

// Store keeps generated study guides.
type Store interface {
	Save(ctx context.Context, userID, name, contentType string, data []byte) (string, error)
}

// SafeName slugs the base name and keeps a lowercase extension.
func SafeName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := slug.Make(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if base == "" {
		base = "artifact"
	}
	return base + ext
}

// Local writes artifacts below a directory, one folder per user.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("artifact directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Save(_ context.Context, userID, name, _ string, data []byte) (string, error) {
	userDir := filepath.Join(l.dir, slug.Make(userID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", fmt.Errorf("create user artifact dir: %w", err)
	}
	target := filepath.Join(userDir, SafeName(name))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return target, nil
}

// Supabase uploads artifacts to a storage bucket.
type Supabase struct {
	client  *storage.Client
	baseURL string
	bucket  string
}

func NewSupabase(cfg config.SupabaseConfig) (*Supabase, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "study-guides"
	}
	baseURL := strings.TrimRight(cfg.URL, "/")
	return &Supabase{
		client:  storage.NewClient(baseURL+"/storage/v1", cfg.Key, nil),
		baseURL: baseURL,
		bucket:  bucket,
	}, nil
}

func (s *Supabase) Save(_ context.Context, userID, name, contentType string, data []byte) (string, error) {
	objectPath := path.Join("guides", slug.Make(userID), SafeName(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := true
	options := storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}
	if _, err := s.client.UploadFile(s.bucket, objectPath, bytes.NewReader(data), options); err != nil {
		return "", fmt.Errorf("upload artifact to supabase: %w", err)
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath), nil
}

// Mirror saves to the primary store and copies to mirrors. Mirror failures
// are logged, the primary location is returned.
type Mirror struct {
	primary Store
	mirrors []Store
}

func NewMirror(primary Store, mirrors ...Store) *Mirror {
	return &Mirror{primary: primary, mirrors: mirrors}
}

func (m *Mirror) Save(ctx context.Context, userID, name, contentType string, data []byte) (string, error) {
	loc, err := m.primary.Save(ctx, userID, name, contentType, data)
	if err != nil {
		return "", err
	}
	for _, mirror := range m.mirrors {
		if _, err := mirror.Save(ctx, userID, name, contentType, data); err != nil {
			logging.WithUser(userID).WithError(err).Warn("mirror artifact")
		}
	}
	return loc, nil
}
