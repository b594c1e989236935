package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"hapibridge/internal/hapi"
)

const (
	configTOMLFileName = "config.toml"
)

type ServerConfig struct {
	Endpoint    string `toml:"endpoint"`
	AccessToken string `toml:"access_token"`
	ProxyURL    string `toml:"proxy_url,omitempty"`
}

type Defaults struct {
	Agent     string `toml:"agent"`
	PushLevel string `toml:"push_level"`
}

type QuickConfig struct {
	Prefix      string `toml:"prefix"`
	PokeApprove bool   `toml:"poke_approve"`
}

type GlobalConfig struct {
	Server   ServerConfig `toml:"server"`
	Defaults Defaults     `toml:"defaults"`
	Quick    QuickConfig  `toml:"quick"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Path() string {
	return filepath.Join(s.dir, configTOMLFileName)
}

func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	cfg.Server.Endpoint = strings.TrimSpace(cfg.Server.Endpoint)
	if cfg.Server.Endpoint == "" {
		cfg.Server.Endpoint = "http://127.0.0.1:3006"
	}
	cfg.Server.Endpoint = strings.TrimRight(cfg.Server.Endpoint, "/")
	cfg.Server.AccessToken = strings.TrimSpace(cfg.Server.AccessToken)
	cfg.Server.ProxyURL = strings.TrimSpace(cfg.Server.ProxyURL)

	agent := strings.ToLower(strings.TrimSpace(cfg.Defaults.Agent))
	if !hapi.IsKnownAgent(agent) {
		agent = hapi.AgentClaude
	}
	cfg.Defaults.Agent = agent

	switch strings.ToLower(strings.TrimSpace(cfg.Defaults.PushLevel)) {
	case "silence":
		cfg.Defaults.PushLevel = "silence"
	case "debug":
		cfg.Defaults.PushLevel = "debug"
	default:
		cfg.Defaults.PushLevel = "summary"
	}

	cfg.Quick.Prefix = strings.TrimSpace(cfg.Quick.Prefix)
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
