package models

// NoteView is what the notes editor exposes for the selected note.
type NoteView struct {
	Filename string `json:"filename"`
	Editing  bool   `json:"editing"`
	Content  string `json:"content"`
	Draft    string `json:"draft,omitempty"`
	HTML     string `json:"html"`
}
