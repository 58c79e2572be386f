// Package client talks to the travel-assistant backend: one request/response
// call per user turn, plus the submenu lookup used by the Order Services tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/easybali/travelchat/pkg/chat"
)

// API is the request/response surface the session manager depends on.
type API interface {
	SendMessage(ctx context.Context, kind chat.Kind, userID, text string) (string, error)
	GetSubMenu(ctx context.Context, name string) ([]map[string]any, error)
}

// Config holds HTTP client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// APIError carries the server-side failure detail so the session can surface
// it as a fallback bot message.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

// ErrorDetail extracts the server detail string from an error, if any.
func ErrorDetail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// HTTPClient implements API over the backend's HTTP endpoints.
type HTTPClient struct {
	cfg Config
	hc  *http.Client
}

var _ API = &HTTPClient{}

func New(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
	}
}

// SendMessage posts one user turn and awaits the single bot reply.
// POST {base}/{kind}/chat?user_id={id} with body {"query": text}.
func (c *HTTPClient) SendMessage(ctx context.Context, kind chat.Kind, userID, text string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", errors.New("no base url configured")
	}
	endpoint := fmt.Sprintf("%s/%s/chat?user_id=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), string(kind), url.QueryEscape(userID))

	body, err := json.Marshal(map[string]string{"query": text})
	if err != nil {
		return "", errors.Wrap(err, "marshal query")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Str("component", "api_client").Str("kind", string(kind)).Str("user_id", userID).Msg("sending message")
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send message")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Detail: extractDetail(raw)}
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	return out.Response, nil
}

// GetSubMenu fetches the entries of a named submenu.
// GET {base}/menu/sub-menu?name={name} returning {"data": [...]}.
func (c *HTTPClient) GetSubMenu(ctx context.Context, name string) ([]map[string]any, error) {
	if c.cfg.BaseURL == "" {
		return nil, errors.New("no base url configured")
	}
	endpoint := fmt.Sprintf("%s/menu/sub-menu?name=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get submenu")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Detail: extractDetail(raw)}
	}
	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode submenu")
	}
	return out.Data, nil
}

// extractDetail pulls the FastAPI-style {"detail": ...} field out of an error
// body, best effort.
func extractDetail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Detail
}
