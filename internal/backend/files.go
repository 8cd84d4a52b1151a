package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Default download names when the backend sends no Content-Disposition.
const (
	DefaultSchemaName       = "esquema.txt"
	DefaultSchemaGeminiName = "esquema_gemini.txt"
	DefaultNotesName        = "apuntes.md"
	DefaultNotesGeminiName  = "apuntes_gemini.md"
)

const errUpdateFallback = "error updating the file"

// GenerateSchema sends the transcription as field "file" and returns the schema.
func (c *Client) GenerateSchema(ctx context.Context, transcription Upload) (*File, error) {
	if transcription.Body == nil {
		return nil, errors.New("generate schema: transcription file required")
	}
	return c.multipartFile(ctx, "generate schema", "/api/generar-esquema", DefaultSchemaName,
		[]formField{{"file", transcription}})
}

func (c *Client) GenerateSchemaGemini(ctx context.Context, transcription Upload) (*File, error) {
	if transcription.Body == nil {
		return nil, errors.New("generate schema (gemini): transcription file required")
	}
	return c.multipartFile(ctx, "generate schema (gemini)", "/api/generar_esquema_gemini", DefaultSchemaGeminiName,
		[]formField{{"file", transcription}})
}

// GenerateNotes writes transcripcion_file then esquema_file.
func (c *Client) GenerateNotes(ctx context.Context, transcription, schema Upload) (*File, error) {
	if transcription.Body == nil || schema.Body == nil {
		return nil, errors.New("generate notes: transcription and schema files are required")
	}
	return c.multipartFile(ctx, "generate notes", "/api/generar_apuntes", DefaultNotesName,
		[]formField{{"transcripcion_file", transcription}, {"esquema_file", schema}})
}

// GenerateNotesGemini takes the schema first and writes esquema_file then
// transcripcion_file.
func (c *Client) GenerateNotesGemini(ctx context.Context, schema, transcription Upload) (*File, error) {
	if schema.Body == nil || transcription.Body == nil {
		return nil, errors.New("generate notes (gemini): schema and transcription files are required")
	}
	return c.multipartFile(ctx, "generate notes (gemini)", "/api/generar_apuntes_gemini", DefaultNotesGeminiName,
		[]formField{{"esquema_file", schema}, {"transcripcion_file", transcription}})
}

// ListMarkdown returns the stored note names ending in ".md".
func (c *Client) ListMarkdown(ctx context.Context) ([]string, error) {
	var out struct {
		Filenames []string `json:"filenames"`
	}
	if err := c.doJSON(ctx, "list markdown", http.MethodGet, "/api/files/", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Filenames))
	for _, name := range out.Filenames {
		if strings.HasSuffix(name, ".md") {
			names = append(names, name)
		}
	}
	return names, nil
}

// GetMarkdown returns the note body. A JSON string body is unquoted.
func (c *Client) GetMarkdown(ctx context.Context, filename string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/files/"+url.PathEscape(filename), nil, "", true)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req, "get markdown")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("get markdown: read body: %w", err)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s, nil
		}
	}
	return string(data), nil
}

// UpdateMarkdown overwrites the note. Failures carry the payload's error or
// message field, else a generic text.
func (c *Client) UpdateMarkdown(ctx context.Context, filename, content string) error {
	body := struct {
		Contenido string `json:"contenido"`
	}{content}
	err := c.doJSON(ctx, "update markdown", http.MethodPut, "/api/guias/"+url.PathEscape(filename)+"/contenido", body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && !payloadHasMessage(apiErr.Payload) {
		apiErr.Message = errUpdateFallback
	}
	return err
}

func payloadHasMessage(payload json.RawMessage) bool {
	var fields struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &fields) != nil {
		return false
	}
	return fields.Error != "" || fields.Message != ""
}
