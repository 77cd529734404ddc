// Package gateway is the console's client for the REST backend. Every
// request is signed with the session's bearer token; a 401 from any
// endpoint invalidates the session.
package gateway

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
	"time"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/obs"
)

// ErrUnauthorized is returned after the backend answered 401.
var ErrUnauthorized = errors.New("gateway: unauthorized")

// Signer supplies the bearer token and is told when the backend rejects it.
type Signer interface {
	BearerToken(ctx context.Context) (string, error)
	Unauthorized(ctx context.Context)
}

// APIError is a non-2xx backend answer other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d", e.Status)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

// StatusOf returns the backend status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return 0
}

// Client talks to the backend rooted at BaseURL.
type Client struct {
	base   *url.URL
	http   *http.Client
	signer func(ctx context.Context) (Signer, bool)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSigner overrides how the request signer is found. By default it is
// the session manager carried by the request context.
func WithSigner(find func(ctx context.Context) (Signer, bool)) Option {
	return func(c *Client) {
		if find != nil {
			c.signer = find
		}
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout},
		signer: managerSigner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func managerSigner(ctx context.Context) (Signer, bool) {
	m, ok := auth.ManagerFromContext(ctx)
	if !ok {
		return nil, false
	}
	return m, true
}

// Do sends one request. in is JSON-encoded when non-nil; a 2xx body is
// decoded into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	start := time.Now()
	status := "error"
	defer func() { obs.ObserveGateway(method, status, time.Since(start)) }()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	signer, hasSigner := c.signer(ctx)
	if hasSigner {
		token, err := signer.BearerToken(ctx)
		if err != nil {
			return fmt.Errorf("gateway: read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = fmt.Sprintf("%d", resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		if hasSigner {
			signer.Unauthorized(ctx)
		}
		return ErrUnauthorized
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("gateway: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// errorMessage extracts {error} or {message} from a backend error body.
func errorMessage(raw []byte) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Error.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if strings.TrimSpace(body.Message) != "" {
			return strings.TrimSpace(body.Message)
		}
		return ""
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}

// CollectionPath is the list endpoint of an entity.
func CollectionPath(entity string) string {
	return "/api/" + entity + "/"
}

// ItemPath is the get, update and delete endpoint of one record.
func ItemPath(entity, id string) string {
	return "/api/" + entity + "/" + url.PathEscape(id)
}

func List[T any](ctx context.Context, c *Client, entity string) ([]T, error) {
	var out []T
	if err := c.Do(ctx, http.MethodGet, CollectionPath(entity), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Get[T any](ctx context.Context, c *Client, entity, id string) (T, error) {
	var out T
	err := c.Do(ctx, http.MethodGet, ItemPath(entity, id), nil, &out)
	return out, err
}

// Create posts in to path, which may be nested under parent ids.
func Create[T any](ctx context.Context, c *Client, path string, in T) (T, error) {
	var out T
	err := c.Do(ctx, http.MethodPost, path, in, &out)
	return out, err
}

func Update[T any](ctx context.Context, c *Client, entity, id string, in T) (T, error) {
	var out T
	err := c.Do(ctx, http.MethodPut, ItemPath(entity, id), in, &out)
	return out, err
}

func Delete(ctx context.Context, c *Client, entity, id string) error {
	return c.Do(ctx, http.MethodDelete, ItemPath(entity, id), nil, nil)
}
