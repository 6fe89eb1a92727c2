package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Gateway issues authenticated JSON requests against the single configured
// backend base URL. It performs no retries, no backoff and enforces no
// timeout of its own; the injected http.Client owns transport policy.
type Gateway struct {
	BaseURL string
	HTTP    *http.Client
	// Token returns the cached bearer token, or "" when none is cached yet.
	Token func() string
	Log   *Logger
}

func NewGateway(baseURL string, timeout time.Duration, token func() string, log *Logger) *Gateway {
	return &Gateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Token:   token,
		Log:     log,
	}
}

// envelope is the {success, message, data} wrapper most /api/* endpoints use.
// Endpoints like /chat_agent and /ai_status return bare bodies instead.
type envelope struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Send issues one request and returns the raw response body on success.
// Every failure mode collapses into a single *APIError so call sites only
// need one recovery path: show a transient notice.
func (g *Gateway) Send(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Kind: ErrTransport, Path: path, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return nil, &APIError{Kind: ErrTransport, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != nil {
		if tok := g.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		g.Log.Error("request failed", map[string]interface{}{"path": path, "error": err.Error()})
		return nil, &APIError{Kind: ErrTransport, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: ErrTransport, Path: path, Err: err}
	}

	if resp.StatusCode >= 300 {
		// Best effort: surface the backend's own message field.
		var env envelope
		_ = json.Unmarshal(raw, &env)
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		g.Log.Error("backend status error", map[string]interface{}{"path": path, "status": resp.StatusCode, "message": msg})
		return nil, &APIError{Kind: ErrStatus, Status: resp.StatusCode, Path: path, Message: msg}
	}
	return raw, nil
}

// SendData sends a request to an envelope endpoint and unwraps data,
// treating success=false as a rejection carrying the backend message.
func (g *Gateway) SendData(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	raw, err := g.Send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{Kind: ErrDecode, Path: path, Err: err}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return nil, &APIError{Kind: ErrStatus, Status: 200, Path: path, Message: msg}
	}
	if env.Data != nil {
		return env.Data, nil
	}
	return raw, nil
}

func decode(path string, raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: ErrDecode, Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
