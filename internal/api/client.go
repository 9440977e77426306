// Package api is the HTTP layer between the domain services and the
// finance backend.
//
// Every request goes through Client.Send, which attaches the bearer token
// held by the session, encodes the body and classifies the outcome into
// the error types of this package. A 401 on an authenticated request
// clears the session and notifies the handlers registered with
// OnUnauthenticated. Nothing is retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/log"
)

const (
	// DefaultBaseURL points at a local development backend.
	DefaultBaseURL = "http://localhost:8000/api/v1"
	DefaultTimeout = 30 * time.Second

	maxResponseBody = 8 << 20
	maxLoggedBody   = 64 << 10

	HeaderRequestID = "X-Request-ID"
)

// Session is the part of the session store the client needs.
type Session interface {
	Token() string
	Clear(ctx context.Context) error
}

// Config configures the client. Zero values take defaults.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
	Metrics    *Metrics
	UserAgent  string
}

// Request describes one backend call. Body is sent as JSON, Form as
// application/x-www-form-urlencoded; at most one of them may be set.
// Anonymous requests never carry the bearer token and a 401 on them is a
// plain HTTPError, as happens when credentials are submitted.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Form      url.Values
	Anonymous bool
}

type Client struct {
	baseURL   string
	http      *http.Client
	session   Session
	logger    *log.Logger
	metrics   *Metrics
	userAgent string

	mu       sync.Mutex
	handlers map[int]func(context.Context)
	nextID   int
}

// New creates a client for the backend at cfg.BaseURL.
func New(cfg Config, sess Session) (*Client, error) {
	if sess == nil {
		return nil, errors.New("api: session is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: invalid base URL %q: scheme must be http or https", base)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ledger"
	}

	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		http:      httpClient,
		session:   sess,
		logger:    logger.WithComponent(log.ComponentAPI),
		metrics:   cfg.Metrics,
		userAgent: userAgent,
		handlers:  make(map[int]func(context.Context)),
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OnUnauthenticated registers fn to run after a 401 has cleared the
// session. Handlers run synchronously on the goroutine that received the
// response, before Send returns. The returned function unregisters fn.
func (c *Client) OnUnauthenticated(fn func(ctx context.Context)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Send(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Send(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Send(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Send(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

// Send performs req and decodes a 2xx JSON response into out when out is
// not nil.
func (c *Client) Send(ctx context.Context, req Request, out any) error {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}
	endpoint := canonicalEndpoint(req.Path)
	requestID := httpReq.Header.Get(HeaderRequestID)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.observe(req.Method, endpoint, 0, elapsed)
		c.logger.WarnContext(ctx, "Backend unreachable", log.NewFields().
			WithRequest(req.Method, endpoint).
			WithRequestID(requestID).
			WithError(err, log.ErrorTypeNetwork).
			ToSlice()...)
		return &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	c.metrics.observe(req.Method, endpoint, resp.StatusCode, time.Since(start))

	fields := log.NewFields().
		WithRequest(req.Method, endpoint).
		WithRequestID(requestID).
		WithResponse(resp.StatusCode, elapsed.Milliseconds())

	// The session ends on a 401 even when its body is unusable.
	if resp.StatusCode == http.StatusUnauthorized && !req.Anonymous {
		c.logger.InfoContext(ctx, "Session rejected by backend", fields.ToSlice()...)
		c.handleUnauthenticated(ctx)
		if err != nil {
			return &UnauthenticatedError{}
		}
		return &UnauthenticatedError{Message: extractDetail(body)}
	}

	if errors.Is(err, errBodyTooLarge) {
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	if err != nil {
		return &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{
			Method:  req.Method,
			Path:    req.Path,
			Status:  resp.StatusCode,
			Message: extractDetail(body),
			Body:    truncate(body, maxLoggedBody),
		}
		c.logger.DebugContext(ctx, "Backend returned an error", fields.WithError(httpErr, log.ErrorTypeHTTP).ToSlice()...)
		return httpErr
	}

	c.logger.DebugContext(ctx, "Backend request completed", fields.ToSlice()...)

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	if req.Body != nil && req.Form != nil {
		return nil, errors.New("api: request has both a JSON body and a form")
	}

	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())

	if !req.Anonymous {
		if token := c.session.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

// handleUnauthenticated clears the session and runs the handlers. The
// clear is not bound to the request context, which may already be done.
func (c *Client) handleUnauthenticated(ctx context.Context) {
	clearCtx := context.WithoutCancel(ctx)
	if err := c.session.Clear(clearCtx); err != nil {
		c.logger.ErrorContext(ctx, "Failed to clear session after 401", log.FieldError, err)
	}

	c.mu.Lock()
	handlers := make([]func(context.Context), 0, len(c.handlers))
	for _, fn := range c.handlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(clearCtx)
	}
}

var errBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxResponseBody)

func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func truncate(body []byte, limit int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "...(truncated)"
	}
	return s
}
