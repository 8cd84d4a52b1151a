package studyguide

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tutorly/internal/artifacts"
	"tutorly/internal/backend"
	"tutorly/internal/cache"
	"tutorly/internal/logging"
	"tutorly/internal/models"
)

// Mode selects which generator pair the backend uses.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeGemini   Mode = "gemini"
)

// TranscriptionFileName is the name the transcription is uploaded under.
const TranscriptionFileName = "transcription.txt"

var (
	ErrUnknownMode     = errors.New("unknown generation mode")
	ErrEmptyTranscript = errors.New("transcription is empty")
)

// ParseMode accepts the API spellings; empty means standard.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "estandar", "estándar":
		return ModeStandard, nil
	case "gemini":
		return ModeGemini, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Backend is the subset of the REST client used by the viewer and generator.
type Backend interface {
	ListAudio(ctx context.Context) ([]models.AudioEntry, error)
	GetTranscription(ctx context.Context, audioID string) (*models.Transcription, error)
	GenerateSchema(ctx context.Context, transcription backend.Upload) (*backend.File, error)
	GenerateSchemaGemini(ctx context.Context, transcription backend.Upload) (*backend.File, error)
	GenerateNotes(ctx context.Context, transcription, schema backend.Upload) (*backend.File, error)
	GenerateNotesGemini(ctx context.Context, schema, transcription backend.Upload) (*backend.File, error)
}

// Result is a generated study guide ready for download.
type Result struct {
	File     backend.File
	Mode     Mode
	Location string
}

// Generator lists transcriptions and produces study guides from them.
type Generator struct {
	backend Backend
	cache   cache.Cache
	ttl     time.Duration
	store   artifacts.Store
}

func NewGenerator(b Backend, c cache.Cache, ttl time.Duration, store artifacts.Store) *Generator {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Generator{backend: b, cache: c, ttl: ttl, store: store}
}

// ListAudio returns the user's processed audios.
func (g *Generator) ListAudio(ctx context.Context, userID string) ([]models.AudioEntry, error) {
	return cache.Fetch(ctx, g.cache, cache.AudioListKey(userID), g.ttl, g.backend.ListAudio)
}

// InvalidateAudioList forces the next ListAudio to hit the backend.
func (g *Generator) InvalidateAudioList(ctx context.Context, userID string) {
	cache.Invalidate(ctx, g.cache, cache.AudioListKey(userID))
}

// Transcription returns the stored transcription of one audio.
func (g *Generator) Transcription(ctx context.Context, userID, audioID string) (*models.Transcription, error) {
	tr, err := cache.Fetch(ctx, g.cache, cache.TranscriptionKey(userID, audioID), g.ttl, func(ctx context.Context) (models.Transcription, error) {
		t, err := g.backend.GetTranscription(ctx, audioID)
		if err != nil {
			return models.Transcription{}, err
		}
		return *t, nil
	})
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// Generate runs schema generation then notes generation for one audio. The
// intermediate schema is only passed on, never kept.
func (g *Generator) Generate(ctx context.Context, userID, audioID string, mode Mode) (*Result, error) {
	log := logging.WithUser(userID).WithField("audio_id", audioID).WithField("mode", mode)

	tr, err := g.Transcription(ctx, userID, audioID)
	if err != nil {
		return nil, fmt.Errorf("load transcription: %w", err)
	}
	text := tr.DisplayText()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyTranscript
	}
	transcription := func() backend.Upload {
		return backend.Upload{Name: TranscriptionFileName, Body: strings.NewReader(text)}
	}

	var schema, notes *backend.File
	switch mode {
	case ModeStandard:
		schema, err = g.backend.GenerateSchema(ctx, transcription())
	case ModeGemini:
		schema, err = g.backend.GenerateSchemaGemini(ctx, transcription())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	if len(schema.Data) == 0 {
		return nil, errors.New("generate schema: backend returned an empty schema")
	}
	log.WithField("phase", "schema").Debugf("schema %s received (%d bytes)", schema.Name, len(schema.Data))

	schemaUpload := backend.Upload{Name: schema.Name, Body: strings.NewReader(string(schema.Data))}
	if mode == ModeGemini {
		notes, err = g.backend.GenerateNotesGemini(ctx, schemaUpload, transcription())
	} else {
		notes, err = g.backend.GenerateNotes(ctx, transcription(), schemaUpload)
	}
	if err != nil {
		return nil, fmt.Errorf("generate notes: %w", err)
	}

	res := &Result{File: *notes, Mode: mode}
	if g.store != nil {
		loc, err := g.store.Save(ctx, userID, notes.Name, notes.ContentType, notes.Data)
		if err != nil {
			log.WithError(err).Warn("store study guide")
		} else {
			res.Location = loc
		}
	}
	log.Info("study guide generated")
	return res, nil
}
