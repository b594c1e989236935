package hapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// TokenManager exchanges the long-lived operator access token for a
// short-lived JWT and keeps it fresh. A token is renewed once less than
// refreshBefore of its lifetime remains, so callers always hold a credential
// that outlives the request they are about to make.
type TokenManager struct {
	endpoint      string
	accessToken   string
	lifetime      time.Duration
	refreshBefore time.Duration
	httpClient    *http.Client
	nowFunc       func() time.Time

	mu         sync.Mutex
	jwt        string
	obtainedAt time.Time
}

func NewTokenManager(endpoint, accessToken string, lifetime, refreshBefore time.Duration) *TokenManager {
	if lifetime <= 0 {
		lifetime = 15 * time.Minute
	}
	if refreshBefore < 0 || refreshBefore >= lifetime {
		refreshBefore = lifetime / 5
	}
	return &TokenManager{
		endpoint:      trimBaseURL(endpoint),
		accessToken:   accessToken,
		lifetime:      lifetime,
		refreshBefore: refreshBefore,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		nowFunc:       time.Now,
	}
}

// SetProxy routes the auth exchange through proxyURL. An empty string
// restores the default transport.
func (m *TokenManager) SetProxy(proxyURL string) error {
	if proxyURL == "" {
		m.httpClient.Transport = nil
		return nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid proxy url %q", proxyURL)
	}
	m.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	return nil
}

// Token returns a valid JWT, renewing it first when needed.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldRefreshLocked() {
		if err := m.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return m.jwt, nil
}

// ForceRefresh discards the cached JWT and obtains a new one. Used as the
// 401 fallback when the remote side invalidates tokens early.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authenticateLocked(ctx); err != nil {
		return "", err
	}
	return m.jwt, nil
}

func (m *TokenManager) shouldRefreshLocked() bool {
	if m.jwt == "" {
		return true
	}
	return m.nowFunc().Sub(m.obtainedAt) >= m.lifetime-m.refreshBefore
}

func (m *TokenManager) authenticateLocked(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{"accessToken": m.accessToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/api/auth", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("auth failed with status: %d", res.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("auth response carried no token")
	}
	m.jwt = out.Token
	m.obtainedAt = m.nowFunc()
	return nil
}
