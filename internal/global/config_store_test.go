package global

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrInitCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)

	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if cfg.Server.Endpoint != "http://127.0.0.1:3006" {
		t.Fatalf("endpoint = %q", cfg.Server.Endpoint)
	}
	if cfg.Defaults.Agent != "claude" || cfg.Defaults.PushLevel != "summary" {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}

func TestSaveNormalizes(t *testing.T) {
	store := NewConfigStore(t.TempDir())
	err := store.Save(GlobalConfig{
		Server:   ServerConfig{Endpoint: "  https://hapi.example.com/  ", AccessToken: " tok "},
		Defaults: Defaults{Agent: "Codex", PushLevel: "DEBUG"},
		Quick:    QuickConfig{Prefix: "  ! ", PokeApprove: true},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if cfg.Server.Endpoint != "https://hapi.example.com" || cfg.Server.AccessToken != "tok" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Defaults.Agent != "codex" || cfg.Defaults.PushLevel != "debug" {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Quick.Prefix != "!" || !cfg.Quick.PokeApprove {
		t.Fatalf("quick = %+v", cfg.Quick)
	}
}

func TestLoadOrInitRejectsUnknownAgent(t *testing.T) {
	dir := t.TempDir()
	content := "[defaults]\nagent = \"cursor\"\npush_level = \"loud\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := NewConfigStore(dir).LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if cfg.Defaults.Agent != "claude" || cfg.Defaults.PushLevel != "summary" {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}
}

func TestConfigWatcherFiresOnSave(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)
	if _, err := store.LoadOrInit(); err != nil {
		t.Fatalf("init: %v", err)
	}

	reloads := make(chan GlobalConfig, 4)
	watcher, err := NewConfigWatcher(store, nil, func(cfg GlobalConfig) { reloads <- cfg })
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer watcher.Close()

	if err := store.Save(GlobalConfig{Server: ServerConfig{Endpoint: "https://hapi.example.com"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-reloads:
			if cfg.Server.Endpoint == "https://hapi.example.com" {
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}
