package models

import "strings"

// AudioEntry is one previously processed audio as listed by the backend.
type AudioEntry struct {
	AudioID      string `json:"audioId"`
	OriginalName string `json:"originalName,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// DisplayName prefers the original upload name.
func (a AudioEntry) DisplayName() string {
	if a.OriginalName != "" {
		return a.OriginalName
	}
	if a.Filename != "" {
		return a.Filename
	}
	return a.AudioID
}

type Segment struct {
	Transcription string `json:"transcription"`
}

// Transcription is the stored result for one audio.
type Transcription struct {
	Segments              []Segment `json:"segments,omitempty"`
	CompleteTranscription string    `json:"complete_transcription,omitempty"`
}

// DisplayText joins segment texts with newlines when segments exist,
// otherwise it returns the flat transcription. Never both.
func (t Transcription) DisplayText() string {
	if len(t.Segments) > 0 {
		parts := make([]string, len(t.Segments))
		for i, seg := range t.Segments {
			parts[i] = seg.Transcription
		}
		return strings.Join(parts, "\n")
	}
	return t.CompleteTranscription
}
