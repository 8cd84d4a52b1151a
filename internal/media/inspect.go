package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	tcmp3 "github.com/tcolgate/mp3"

	"tutorly/internal/logging"
)

var (
	ErrUnsupportedAudio    = errors.New("unsupported audio format")
	ErrUnsupportedDocument = errors.New("unsupported document format")
)

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true,
	".aac": true, ".webm": true, ".mp4": true, ".opus": true,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".doc": true, ".docx": true,
}

// AudioInfo describes a locally received audio file.
type AudioInfo struct {
	ContentType string        `json:"content_type"`
	Size        int64         `json:"size"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// DocumentInfo describes a locally received supporting document.
type DocumentInfo struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages,omitempty"`
}

// InspectAudio sniffs the file at path and measures mp3 duration.
func InspectAudio(name, path string) (*AudioInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}

	ct, err := sniff(f)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !isAudioType(ct) && !audioExtensions[ext] {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedAudio, name, ct)
	}

	info := &AudioInfo{ContentType: ct, Size: st.Size()}
	if ct == "audio/mpeg" || ext == ".mp3" {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind audio: %w", err)
		}
		d, err := mp3Duration(f)
		if err != nil {
			logging.L().WithError(err).WithField("file", name).Debug("mp3 duration unavailable")
		} else {
			info.Duration = d
		}
	}
	return info, nil
}

// InspectDocument validates the document type and counts pdf pages.
func InspectDocument(name, path string) (*DocumentInfo, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !documentExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	ct, err := sniff(f)
	if err != nil {
		return nil, err
	}
	info := &DocumentInfo{ContentType: ct, Size: st.Size()}
	if ext == ".pdf" {
		if ct != "application/pdf" {
			return nil, fmt.Errorf("%w: %s is not a pdf", ErrUnsupportedDocument, name)
		}
		pages, err := pdfPages(f, st.Size())
		if err != nil {
			return nil, err
		}
		info.Pages = pages
	}
	return info, nil
}

func sniff(r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read header: %w", err)
	}
	ct := http.DetectContentType(head[:n])
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}

func isAudioType(ct string) bool {
	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") || ct == "application/ogg"
}

var mp3Duration = decodeMP3Duration

func decodeMP3Duration(r io.Reader) (time.Duration, error) {
	var (
		total   time.Duration
		dec     = tcmp3.NewDecoder(r)
		frame   tcmp3.Frame
		skipped int
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}
	return total, nil
}

// pdfPages guards against parser panics on malformed input.
func pdfPages(r io.ReaderAt, size int64) (pages int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: malformed pdf", ErrUnsupportedDocument)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedDocument, err)
	}
	return reader.NumPage(), nil
}
