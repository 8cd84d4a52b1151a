package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"Apuntes Clase 1.MD": "apuntes-clase-1.md",
		"../../etc/passwd":   "passwd",
		"???.md":             "artifact.md",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalSaveWritesPerUser(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	loc, err := store.Save(context.Background(), "user-1", "Apuntes.md", "text/markdown", []byte("# hola"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if loc != filepath.Join(dir, "user-1", "apuntes.md") {
		t.Fatalf("unexpected location %s", loc)
	}
	data, err := os.ReadFile(loc)
	if err != nil || string(data) != "# hola" {
		t.Fatalf("unexpected content %q %v", data, err)
	}
}

type failingStore struct{ calls int }

func (f *failingStore) Save(context.Context, string, string, string, []byte) (string, error) {
	f.calls++
	return "", errors.New("bucket unavailable")
}

func TestMirrorIgnoresMirrorFailure(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mirror := &failingStore{}
	loc, err := NewMirror(local, mirror).Save(context.Background(), "u", "a.md", "", []byte("x"))
	if err != nil || loc == "" {
		t.Fatalf("expected primary save to succeed, got %q %v", loc, err)
	}
	if mirror.calls != 1 {
		t.Fatalf("expected mirror to be attempted once, got %d", mirror.calls)
	}
}
