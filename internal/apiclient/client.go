// Package apiclient talks to the workbridge REST API. It implements the REST
// collaborators the realtime package needs.
package apiclient

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

	"github.com/AnshRaj112/workbridge/internal/realtime"
)

var (
	_ realtime.MessageAPI = (*Client)(nil)
	_ realtime.WorkLogAPI = (*Client)(nil)
)

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens realtime.TokenSource

	// WorkerName labels location broadcasts sent by this client.
	WorkerName string
}

// New returns a client for baseURL (e.g. http://localhost:8080). A nil
// httpClient gets a 30s timeout.
func New(baseURL string, tokens realtime.TokenSource, httpClient *http.Client) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if tokens == nil {
		tokens = realtime.StaticToken("")
	}
	return &Client{base: u, http: httpClient, tokens: tokens}, nil
}

// envelope mirrors the server's response body.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// resolve joins an escaped route from routePath onto the base URL.
func (c *Client) resolve(route string, query url.Values) (string, error) {
	ref, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("bad route %q: %w", route, err)
	}
	u := c.base.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// routePath builds an absolute route with every segment escaped on its own,
// so an id holding "/" or ".." stays one segment.
func routePath(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		if strings.Trim(seg, ".") == "" {
			b.WriteString(strings.Repeat("%2E", len(seg)))
			continue
		}
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

func (c *Client) doJSON(ctx context.Context, method, route string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	target, err := c.resolve(route, query)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s %s: decode body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// IsUnauthorized reports whether err is a rejected session.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
