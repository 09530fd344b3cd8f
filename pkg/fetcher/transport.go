package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Request describes one call to the resource store.
type Request struct {
	// Method defaults to GET when empty.
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// SkipWriteBack leaves the cache untouched after a network read. Set it
	// when the caller installs the response in the cache itself.
	SkipWriteBack bool
}

// Get builds a read request for path with optional query values.
func Get(p string, query url.Values) Request {
	return Request{Method: http.MethodGet, Path: p, Query: query}
}

// NormalizedMethod returns the upper-cased method, GET when unset.
func (r Request) NormalizedMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// IsRead reports whether the request is a non-mutating read.
func (r Request) IsRead() bool {
	m := r.NormalizedMethod()
	return m == http.MethodGet || m == http.MethodHead
}

// Transport performs a single request and returns the raw JSON response.
type Transport interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

// StatusError is returned for any response outside the 2xx range.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err carries a 404 status.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// HTTPTransport talks JSON to the resource store over HTTP.
type HTTPTransport struct {
	http    *http.Client
	baseURL *url.URL
	headers http.Header
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(h *http.Client) Option {
	return func(t *HTTPTransport) { t.http = h }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(t *HTTPTransport) { t.headers.Set(key, value) }
}

// NewHTTPTransport creates a transport rooted at baseURL.
func NewHTTPTransport(baseURL string, opts ...Option) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	t := &HTTPTransport{
		http:    http.DefaultClient,
		baseURL: u,
		headers: make(http.Header),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *HTTPTransport) newReq(ctx context.Context, r Request) (*http.Request, error) {
	u := *t.baseURL
	u.Path = path.Join(u.Path, r.Path)
	u.RawQuery = r.Query.Encode()

	var body io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.NormalizedMethod(), u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends the request. An empty 2xx body decodes as JSON null.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	req, err := t.newReq(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, r.Path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", req.Method, r.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     req.Method,
			Path:       r.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", req.Method, r.Path)
	}
	return json.RawMessage(b), nil
}
