package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Payload    json.RawMessage
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

func newAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, StatusCode: status}
	if json.Valid(body) {
		e.Payload = json.RawMessage(body)
	}
	e.Message = errorMessage(body, status)
	return e
}

// errorMessage picks error, then message, then detail from a JSON payload,
// then the raw body, then the status text.
func errorMessage(body []byte, status int) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("backend returned status %d", status)
}

var dispositionName = regexp.MustCompile(`filename="?([^"]+)"?`)

func filenameFromDisposition(header, fallback string) string {
	if header == "" {
		return fallback
	}
	m := dispositionName.FindStringSubmatch(header)
	if len(m) < 2 {
		return fallback
	}
	name := strings.TrimSpace(strings.ReplaceAll(m[1], `"`, ""))
	if name == "" {
		return fallback
	}
	return name
}
