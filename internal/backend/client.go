package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// HeaderSource supplies authentication headers for outbound calls.
type HeaderSource interface {
	Headers(ctx context.Context) (http.Header, error)
	MultipartHeaders(ctx context.Context) (http.Header, error)
}

// Client calls the transcription backend. One method per endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	headers HeaderSource

	mu   sync.Mutex
	jars map[string]http.CookieJar
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New returns a client for baseURL.
func New(baseURL string, headers HeaderSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
		headers: headers,
		jars:    make(map[string]http.CookieJar),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload is one file part of a multipart request.
type Upload struct {
	Name string
	Body io.Reader
}

// File is a binary response delivered as a download.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type formField struct {
	field  string
	upload Upload
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string, authed bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if authed {
		var h http.Header
		if contentType == "" || contentType == "application/json" {
			h, err = c.headers.Headers(ctx)
		} else {
			h, err = c.headers.MultipartHeaders(ctx)
		}
		if err != nil {
			return nil, err
		}
		for k, v := range h {
			req.Header[k] = v
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do sends req and returns the response for 2xx statuses. Any other status
// is turned into an *APIError and the body is consumed.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	jar := c.jarFor(req.Header.Get("X-User-ID"))
	for _, ck := range jar.Cookies(req.URL) {
		req.AddCookie(ck)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rc := resp.Cookies(); len(rc) > 0 {
		jar.SetCookies(req.URL, rc)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, newAPIError(op, resp.StatusCode, body)
	}
	return resp, nil
}

// jarFor keeps backend cookies apart per user.
func (c *Client) jarFor(userID string) http.CookieJar {
	c.mu.Lock()
	defer c.mu.Unlock()
	jar, ok := c.jars[userID]
	if !ok {
		jar, _ = cookiejar.New(nil)
		c.jars[userID] = jar
	}
	return jar
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, body, contentType, true)
	if err != nil {
		return err
	}
	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, op, out)
}

func (c *Client) doMultipart(ctx context.Context, op, path string, fields []formField) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		part, err := mw.CreateFormFile(f.field, f.upload.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: create form file: %w", op, err)
		}
		if _, err := io.Copy(part, f.upload.Body); err != nil {
			return nil, fmt.Errorf("%s: copy %s: %w", op, f.field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%s: close multipart: %w", op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf, mw.FormDataContentType(), true)
	if err != nil {
		return nil, err
	}
	return c.do(req, op)
}

func (c *Client) multipartJSON(ctx context.Context, op, path string, fields []formField, out interface{}) error {
	resp, err := c.doMultipart(ctx, op, path, fields)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, op, out)
}

func (c *Client) multipartFile(ctx context.Context, op, path, fallbackName string, fields []formField) (*File, error) {
	resp, err := c.doMultipart(ctx, op, path, fields)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return &File{
		Name:        filenameFromDisposition(resp.Header.Get("Content-Disposition"), fallbackName),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func decodeBody(resp *http.Response, op string, out interface{}) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: read body: %w", op, err)
		}
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
