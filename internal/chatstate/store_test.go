package chatstate

import (
	"path/filepath"
	"testing"

	"hapibridge/internal/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	s, err := NewStore(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestGetReturnsDefaultsForNewChat(t *testing.T) {
	s := newStore(t)
	st, err := s.Get("chat-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.SessionID != "" || st.AgentKind != "claude" || st.PushLevel != "summary" {
		t.Fatalf("defaults = %+v", st)
	}
}

func TestBindSessionRoundTrip(t *testing.T) {
	s := newStore(t)
	if err := s.BindSession("chat-1", "sess-a", "codex"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	st, err := s.Get("chat-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.SessionID != "sess-a" || st.AgentKind != "codex" {
		t.Fatalf("state = %+v", st)
	}

	// Rebinding overwrites without touching other fields.
	if err := s.SetPushLevel("chat-1", "debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if err := s.BindSession("chat-1", "sess-b", "claude"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	st, _ = s.Get("chat-1")
	if st.SessionID != "sess-b" || st.PushLevel != "debug" {
		t.Fatalf("after rebind = %+v", st)
	}
}

func TestSetPushLevelCreatesRow(t *testing.T) {
	s := newStore(t)
	if err := s.SetPushLevel("chat-2", "silence"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	st, _ := s.Get("chat-2")
	if st.PushLevel != "silence" || st.AgentKind != "claude" {
		t.Fatalf("state = %+v", st)
	}
}

func TestWatchesPersistAndRemove(t *testing.T) {
	s := newStore(t)
	if err := s.AddWatch("sess-a", "chat-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddWatch("sess-b", "chat-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Re-adding moves the watch to a new chat instead of failing.
	if err := s.AddWatch("sess-a", "chat-2"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	watches, err := s.Watches()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(watches) != 2 {
		t.Fatalf("watches = %+v", watches)
	}
	byID := map[string]string{}
	for _, w := range watches {
		byID[w.SessionID] = w.ChatID
	}
	if byID["sess-a"] != "chat-2" || byID["sess-b"] != "chat-1" {
		t.Fatalf("watches = %+v", byID)
	}

	if err := s.RemoveWatch("sess-a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	watches, _ = s.Watches()
	if len(watches) != 1 || watches[0].SessionID != "sess-b" {
		t.Fatalf("after remove = %+v", watches)
	}
}

func TestChatFor(t *testing.T) {
	s := newStore(t)
	if chat, err := s.ChatFor("sess-x"); err != nil || chat != "" {
		t.Fatalf("unwatched session = %q, %v", chat, err)
	}
	if err := s.AddWatch("sess-x", "chat-9"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if chat, _ := s.ChatFor("sess-x"); chat != "chat-9" {
		t.Fatalf("chat = %q", chat)
	}
}

func TestRouteFor(t *testing.T) {
	s := newStore(t)
	if chat, target, err := s.RouteFor("sess-x"); err != nil || chat != "" || target != "" {
		t.Fatalf("unwatched route = %q, %q, %v", chat, target, err)
	}

	if err := s.AddWatch("sess-x", "chat-9"); err != nil {
		t.Fatalf("add: %v", err)
	}
	chat, target, err := s.RouteFor("sess-x")
	if err != nil || chat != "chat-9" || target != "chat-9" {
		t.Fatalf("default route = %q, %q, %v", chat, target, err)
	}

	// A notify target redirects delivery without changing the subscriber.
	if err := s.SetNotifyTarget("chat-9", "group:ops"); err != nil {
		t.Fatalf("set target: %v", err)
	}
	chat, target, err = s.RouteFor("sess-x")
	if err != nil || chat != "chat-9" || target != "group:ops" {
		t.Fatalf("redirected route = %q, %q, %v", chat, target, err)
	}

	if err := s.SetNotifyTarget("chat-9", ""); err != nil {
		t.Fatalf("clear target: %v", err)
	}
	if _, target, _ = s.RouteFor("sess-x"); target != "chat-9" {
		t.Fatalf("cleared route target = %q", target)
	}
}

func TestSettings(t *testing.T) {
	s := newStore(t)
	if v, err := s.Setting("missing"); err != nil || v != "" {
		t.Fatalf("missing setting = %q, %v", v, err)
	}
	if err := s.SetSetting("default_agent", "gemini"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting("default_agent", "opencode"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := s.Setting("default_agent"); v != "opencode" {
		t.Fatalf("setting = %q", v)
	}
}
