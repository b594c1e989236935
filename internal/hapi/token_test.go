package hapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newAuthServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode auth body: %v", err)
		}
		if body.AccessToken != "operator-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "jwt-" + string(rune('0'+n))})
	}))
}

func TestTokenManager_CachesUntilRefreshWindow(t *testing.T) {
	var calls atomic.Int64
	srv := newAuthServer(t, &calls)
	defer srv.Close()

	m := NewTokenManager(srv.URL, "operator-token", 900*time.Second, 180*time.Second)
	base := time.Now()
	m.nowFunc = func() time.Time { return base }

	tok1, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	tok2, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("token should be cached, got %q then %q", tok1, tok2)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 auth call, got %d", got)
	}

	// Step past lifetime-refreshBefore: the next Token call renews.
	m.nowFunc = func() time.Time { return base.Add(721 * time.Second) }
	tok3, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("third token: %v", err)
	}
	if tok3 == tok1 {
		t.Fatal("token should have been renewed")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 auth calls, got %d", got)
	}
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	var calls atomic.Int64
	srv := newAuthServer(t, &calls)
	defer srv.Close()

	m := NewTokenManager(srv.URL, "operator-token", 900*time.Second, 180*time.Second)
	first, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	second, err := m.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if first == second {
		t.Fatal("force refresh should discard the cached token")
	}
}

func TestTokenManager_AuthFailure(t *testing.T) {
	var calls atomic.Int64
	srv := newAuthServer(t, &calls)
	defer srv.Close()

	m := NewTokenManager(srv.URL, "wrong", 900*time.Second, 180*time.Second)
	if _, err := m.Token(context.Background()); err == nil {
		t.Fatal("expected auth failure")
	}
}
