package hapi

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
)

// StatusError reports a non-2xx response from the remote session-ops API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote call failed with status %d: %s", e.Status, e.Body)
}

// Client is the authenticated HTTP client for the remote session-ops API.
// Every request carries a bearer JWT from the TokenManager; a 401 triggers
// one forced refresh and a single retry.
type Client struct {
	baseURL    string
	tokens     *TokenManager
	httpClient *http.Client
	// dialClient carries the event-stream handshake; it must not set a
	// Timeout or the websocket library rejects it.
	dialClient *http.Client
}

func NewClient(baseURL string, tokens *TokenManager) *Client {
	return &Client{
		baseURL:    trimBaseURL(baseURL),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialClient: &http.Client{},
	}
}

// SetProxy routes API calls and event-stream handshakes through proxyURL.
// An empty string restores the default transport.
func (c *Client) SetProxy(proxyURL string) error {
	if proxyURL == "" {
		c.httpClient.Transport = nil
		c.dialClient.Transport = nil
		return nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid proxy url %q", proxyURL)
	}
	c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	c.dialClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	return nil
}

func trimBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	res, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusUnauthorized {
		_ = res.Body.Close()
		if _, err := c.tokens.ForceRefresh(ctx); err != nil {
			return fmt.Errorf("refresh credential after 401: %w", err)
		}
		res, err = c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}
	}
	defer func() {
		_ = res.Body.Close()
	}()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &StatusError{Status: res.StatusCode, Body: truncateBody(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func truncateBody(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Health probes GET /health without a credential.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = res.Body.Close()
	}()
	return res.StatusCode == http.StatusOK
}

func (c *Client) FetchSessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) FetchSession(ctx context.Context, sessionID string) (Session, error) {
	var out struct {
		Session Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return Session{}, err
	}
	return out.Session, nil
}

// Message is one entry of a session's transcript.
type Message struct {
	Seq     int             `json:"seq"`
	Content json.RawMessage `json:"content"`
}

func (c *Client) FetchMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	path := fmt.Sprintf("/api/sessions/%s/messages?limit=%d", url.PathEscape(sessionID), limit)
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	return c.do(ctx, http.MethodPost, path, map[string]string{"text": text}, nil)
}

func (c *Client) SetPermissionMode(ctx context.Context, sessionID, mode string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/permission-mode"
	return c.do(ctx, http.MethodPost, path, map[string]string{"mode": mode}, nil)
}

func (c *Client) SetModel(ctx context.Context, sessionID, model string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/model"
	return c.do(ctx, http.MethodPost, path, map[string]string{"model": model}, nil)
}

func (c *Client) Approve(ctx context.Context, sessionID, requestID string) error {
	path := fmt.Sprintf("/api/sessions/%s/permissions/%s/approve", url.PathEscape(sessionID), url.PathEscape(requestID))
	return c.do(ctx, http.MethodPost, path, map[string]string{}, nil)
}

func (c *Client) Deny(ctx context.Context, sessionID, requestID string) error {
	path := fmt.Sprintf("/api/sessions/%s/permissions/%s/deny", url.PathEscape(sessionID), url.PathEscape(requestID))
	return c.do(ctx, http.MethodPost, path, map[string]string{}, nil)
}

// Answer submits the reply for one question of a question-type request.
func (c *Client) Answer(ctx context.Context, sessionID, requestID string, question int, reply string) error {
	path := fmt.Sprintf("/api/sessions/%s/permissions/%s/answer", url.PathEscape(sessionID), url.PathEscape(requestID))
	body := map[string]any{"question": question, "reply": reply}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) Abort(ctx context.Context, sessionID string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/abort"
	return c.do(ctx, http.MethodPost, path, map[string]string{}, nil)
}

// Archive deactivates a session. The PATCH endpoint requires a name, so the
// current title is fetched first and reused.
func (c *Client) Archive(ctx context.Context, sessionID string) error {
	detail, err := c.FetchSession(ctx, sessionID)
	if err != nil {
		return err
	}
	name := detail.Metadata.Summary.Text
	if name == "" {
		name = shortID(sessionID)
	}
	path := "/api/sessions/" + url.PathEscape(sessionID)
	return c.do(ctx, http.MethodPatch, path, map[string]any{"name": name, "active": false}, nil)
}

func (c *Client) Rename(ctx context.Context, sessionID, name string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"name": name}, nil)
}

func (c *Client) Delete(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// FetchMachines returns the machines currently online.
func (c *Client) FetchMachines(ctx context.Context) ([]Machine, error) {
	var out struct {
		Machines []Machine `json:"machines"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/machines", nil, &out); err != nil {
		return nil, err
	}
	active := make([]Machine, 0, len(out.Machines))
	for _, m := range out.Machines {
		if m.Active {
			active = append(active, m)
		}
	}
	return active, nil
}

// RecentPaths extracts deduplicated working directories from known sessions.
func (c *Client) RecentPaths(ctx context.Context) ([]string, error) {
	sessions, err := c.FetchSessions(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		p := s.Metadata.Path
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths, nil
}

// Spawn creates a new session on a machine and returns the new session ID.
func (c *Client) Spawn(ctx context.Context, machineID string, req SpawnRequest) (string, error) {
	if req.SessionType == "" {
		req.SessionType = "simple"
	}
	var out struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	path := "/api/machines/" + url.PathEscape(machineID) + "/spawn"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	if out.Type != "success" {
		if out.Message == "" {
			out.Message = "unknown spawn failure"
		}
		return "", fmt.Errorf("spawn rejected: %s", out.Message)
	}
	return out.SessionID, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
