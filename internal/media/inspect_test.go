package media

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInspectAudioAcceptsKnownExtension(t *testing.T) {
	path := writeTemp(t, "clase.flac", []byte("fLaC\x00\x00\x00\x22"))
	info, err := InspectAudio("clase.flac", path)
	if err != nil {
		t.Fatalf("InspectAudio: %v", err)
	}
	if info.Size != 8 {
		t.Fatalf("unexpected size %d", info.Size)
	}
}

func TestInspectAudioKeepsMP3WithBrokenFrames(t *testing.T) {
	orig := mp3Duration
	mp3Duration = func(io.Reader) (time.Duration, error) { return 0, errors.New("bad frame header") }
	defer func() { mp3Duration = orig }()

	path := writeTemp(t, "clase.mp3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00frames"))
	info, err := InspectAudio("clase.mp3", path)
	if err != nil {
		t.Fatalf("InspectAudio should accept the file, got %v", err)
	}
	if info.Duration != 0 {
		t.Fatalf("expected no duration, got %s", info.Duration)
	}
}

func TestInspectAudioRejectsText(t *testing.T) {
	path := writeTemp(t, "notas.txt", []byte("hola mundo"))
	if _, err := InspectAudio("notas.txt", path); !errors.Is(err, ErrUnsupportedAudio) {
		t.Fatalf("expected ErrUnsupportedAudio, got %v", err)
	}
}

func TestInspectDocumentRejectsFakePDF(t *testing.T) {
	path := writeTemp(t, "tema.pdf", []byte("not a pdf at all"))
	if _, err := InspectDocument("tema.pdf", path); !errors.Is(err, ErrUnsupportedDocument) {
		t.Fatalf("expected ErrUnsupportedDocument, got %v", err)
	}
}

func TestInspectDocumentAcceptsText(t *testing.T) {
	path := writeTemp(t, "tema.txt", []byte("Tema 1: introducción"))
	info, err := InspectDocument("tema.txt", path)
	if err != nil {
		t.Fatalf("InspectDocument: %v", err)
	}
	if info.Pages != 0 || info.ContentType != "text/plain" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestInspectDocumentRejectsExtension(t *testing.T) {
	path := writeTemp(t, "tema.exe", []byte("MZ"))
	if _, err := InspectDocument("tema.exe", path); !errors.Is(err, ErrUnsupportedDocument) {
		t.Fatalf("expected ErrUnsupportedDocument, got %v", err)
	}
}
