package studyguide

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tutorly/internal/artifacts"
	"tutorly/internal/backend"
	"tutorly/internal/cache"
	"tutorly/internal/models"
)

type call struct {
	Op    string
	Names []string
	Data  []string
}

type fakeBackend struct {
	mu         sync.Mutex
	calls      []call
	schemaErr  error
	transcript models.Transcription
	audioLists int
}

func (f *fakeBackend) record(op string, uploads ...backend.Upload) {
	c := call{Op: op}
	for _, u := range uploads {
		data, _ := io.ReadAll(u.Body)
		c.Names = append(c.Names, u.Name)
		c.Data = append(c.Data, string(data))
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeBackend) ListAudio(context.Context) ([]models.AudioEntry, error) {
	f.audioLists++
	return []models.AudioEntry{{AudioID: "a1", OriginalName: "Clase.mp3"}}, nil
}

func (f *fakeBackend) GetTranscription(context.Context, string) (*models.Transcription, error) {
	t := f.transcript
	return &t, nil
}

func (f *fakeBackend) GenerateSchema(_ context.Context, tr backend.Upload) (*backend.File, error) {
	f.record("schema", tr)
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	return &backend.File{Name: "esquema.txt", Data: []byte("SCHEMA")}, nil
}

func (f *fakeBackend) GenerateSchemaGemini(_ context.Context, tr backend.Upload) (*backend.File, error) {
	f.record("schema-gemini", tr)
	return &backend.File{Name: "esquema_gemini.txt", Data: []byte("SCHEMA-G")}, nil
}

func (f *fakeBackend) GenerateNotes(_ context.Context, tr, schema backend.Upload) (*backend.File, error) {
	f.record("notes", tr, schema)
	return &backend.File{Name: "apuntes.md", ContentType: "text/markdown", Data: []byte("# Apuntes")}, nil
}

func (f *fakeBackend) GenerateNotesGemini(_ context.Context, schema, tr backend.Upload) (*backend.File, error) {
	f.record("notes-gemini", schema, tr)
	return &backend.File{Name: "apuntes_gemini.md", Data: []byte("# Apuntes G")}, nil
}

func segmented() models.Transcription {
	return models.Transcription{Segments: []models.Segment{{Transcription: "uno"}, {Transcription: "dos"}}}
}

func TestGenerateStandardArgumentOrder(t *testing.T) {
	fb := &fakeBackend{transcript: segmented()}
	store, err := artifacts.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := NewGenerator(fb, cache.NewMemory(), 0, store)

	res, err := g.Generate(context.Background(), "user-1", "a1", ModeStandard)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []call{
		{Op: "schema", Names: []string{"transcription.txt"}, Data: []string{"uno\ndos"}},
		{Op: "notes", Names: []string{"transcription.txt", "esquema.txt"}, Data: []string{"uno\ndos", "SCHEMA"}},
	}
	if diff := cmp.Diff(want, fb.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if res.File.Name != "apuntes.md" || res.Location == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGenerateGeminiArgumentOrder(t *testing.T) {
	fb := &fakeBackend{transcript: models.Transcription{CompleteTranscription: "plano"}}
	g := NewGenerator(fb, cache.NewMemory(), 0, nil)

	res, err := g.Generate(context.Background(), "user-1", "a1", ModeGemini)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []call{
		{Op: "schema-gemini", Names: []string{"transcription.txt"}, Data: []string{"plano"}},
		{Op: "notes-gemini", Names: []string{"esquema_gemini.txt", "transcription.txt"}, Data: []string{"SCHEMA-G", "plano"}},
	}
	if diff := cmp.Diff(want, fb.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if res.File.Name != "apuntes_gemini.md" || res.Location != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSchemaFailureSkipsNotes(t *testing.T) {
	fb := &fakeBackend{transcript: segmented(), schemaErr: errors.New("quota exceeded")}
	g := NewGenerator(fb, cache.NewMemory(), 0, nil)

	_, err := g.Generate(context.Background(), "user-1", "a1", ModeStandard)
	if err == nil || !errors.Is(err, fb.schemaErr) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if len(fb.calls) != 1 {
		t.Fatalf("notes step must not run, calls=%v", fb.calls)
	}
}

func TestEmptyTranscriptRejected(t *testing.T) {
	g := NewGenerator(&fakeBackend{}, nil, 0, nil)
	if _, err := g.Generate(context.Background(), "u", "a1", ModeStandard); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeStandard, "estandar": ModeStandard, "Gemini": ModeGemini} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("gpt"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestAudioListCachedAndInvalidated(t *testing.T) {
	fb := &fakeBackend{}
	g := NewGenerator(fb, cache.NewMemory(), 0, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := g.ListAudio(ctx, "u"); err != nil {
			t.Fatal(err)
		}
	}
	g.InvalidateAudioList(ctx, "u")
	if _, err := g.ListAudio(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if fb.audioLists != 2 {
		t.Fatalf("expected 2 backend list calls, got %d", fb.audioLists)
	}
}
