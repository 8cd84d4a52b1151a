package notes

import (
	"context"
	"errors"
	"sync"
	"time"

	"tutorly/internal/cache"
	"tutorly/internal/logging"
	"tutorly/internal/models"
)

var (
	ErrNothingToSave = errors.New("nothing to save")
	ErrNoSelection   = errors.New("no note selected")
	ErrNotEditing    = errors.New("note is not in edit mode")
)

// Backend is the subset of the REST client used for notes.
type Backend interface {
	ListMarkdown(ctx context.Context) ([]string, error)
	GetMarkdown(ctx context.Context, filename string) (string, error)
	UpdateMarkdown(ctx context.Context, filename, content string) error
}

// Service serves cached note queries and owns one editor per user.
type Service struct {
	backend Backend
	cache   cache.Cache
	ttl     time.Duration

	mu      sync.Mutex
	editors map[string]*Editor
}

func NewService(b Backend, c cache.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Service{backend: b, cache: c, ttl: ttl, editors: make(map[string]*Editor)}
}

// List returns the user's markdown notes.
func (s *Service) List(ctx context.Context, userID string) ([]string, error) {
	return cache.Fetch(ctx, s.cache, cache.NoteListKey(userID), s.ttl, s.backend.ListMarkdown)
}

// Get returns the saved content of one note.
func (s *Service) Get(ctx context.Context, userID, filename string) (string, error) {
	return cache.Fetch(ctx, s.cache, cache.NoteKey(userID, filename), s.ttl, func(ctx context.Context) (string, error) {
		return s.backend.GetMarkdown(ctx, filename)
	})
}

// Editor returns the user's editor, creating it on first use.
func (s *Service) Editor(userID string) *Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.editors[userID]
	if !ok {
		e = &Editor{svc: s, userID: userID}
		s.editors[userID] = e
	}
	return e
}

// Forget drops the user's editor state.
func (s *Service) Forget(userID string) {
	s.mu.Lock()
	delete(s.editors, userID)
	s.mu.Unlock()
}

// Editor is the view/edit state of the selected note. Operations of one
// user are serialized.
type Editor struct {
	svc    *Service
	userID string

	mu       sync.Mutex
	selected string
	saved    string
	draft    string
	editing  bool
}

// Select loads a note and resets edit mode.
func (e *Editor) Select(ctx context.Context, filename string) (models.NoteView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLocked(ctx, filename)
}

func (e *Editor) selectLocked(ctx context.Context, filename string) (models.NoteView, error) {
	content, err := e.svc.Get(ctx, e.userID, filename)
	if err != nil {
		return e.viewLocked(), err
	}
	e.selected = filename
	e.saved = content
	e.draft = ""
	e.editing = false
	return e.viewLocked(), nil
}

// Ensure selects filename unless it is already selected, keeping any draft
// of the current selection.
func (e *Editor) Ensure(ctx context.Context, filename string) (models.NoteView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == filename {
		return e.viewLocked(), nil
	}
	return e.selectLocked(ctx, filename)
}

// ToggleEdit enters edit mode with the saved content as draft, or leaves it
// discarding the draft.
func (e *Editor) ToggleEdit() (models.NoteView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == "" {
		return e.viewLocked(), ErrNoSelection
	}
	if e.editing {
		e.editing = false
		e.draft = ""
	} else {
		e.editing = true
		e.draft = e.saved
	}
	return e.viewLocked(), nil
}

// SetDraft replaces the draft while editing.
func (e *Editor) SetDraft(text string) (models.NoteView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == "" {
		return e.viewLocked(), ErrNoSelection
	}
	if !e.editing {
		return e.viewLocked(), ErrNotEditing
	}
	e.draft = text
	return e.viewLocked(), nil
}

// Save overwrites the note with the draft. On failure the draft and edit
// mode are kept. On success both note caches are invalidated and the saved
// content is read back.
func (e *Editor) Save(ctx context.Context) (models.NoteView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == "" || e.draft == "" {
		return e.viewLocked(), ErrNothingToSave
	}
	if err := e.svc.backend.UpdateMarkdown(ctx, e.selected, e.draft); err != nil {
		return e.viewLocked(), err
	}
	cache.Invalidate(ctx, e.svc.cache, cache.NoteKey(e.userID, e.selected), cache.NoteListKey(e.userID))

	saved := e.draft
	if fresh, err := e.svc.Get(ctx, e.userID, e.selected); err != nil {
		logging.WithUser(e.userID).WithError(err).Warn("reload saved note")
	} else {
		saved = fresh
	}
	e.saved = saved
	e.draft = ""
	e.editing = false
	return e.viewLocked(), nil
}

// View returns the current state.
func (e *Editor) View() models.NoteView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Download returns the draft when editing, else the saved content.
func (e *Editor) Download() (string, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == "" {
		return "", nil, ErrNoSelection
	}
	return e.selected, []byte(e.previewLocked()), nil
}

func (e *Editor) previewLocked() string {
	if e.editing && e.draft != "" {
		return e.draft
	}
	return e.saved
}

func (e *Editor) viewLocked() models.NoteView {
	v := models.NoteView{
		Filename: e.selected,
		Editing:  e.editing,
		Content:  e.saved,
	}
	if e.editing {
		v.Draft = e.draft
	}
	if e.selected != "" {
		v.HTML = Render(e.previewLocked())
	}
	return v
}
