package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	Endpoint       string
	AccessToken    string
	ProxyURL       string
	LogLevel       string
	ConfigDir      string
	DBPath         string
	PushLevel      string
	JWTLifetime    time.Duration
	RefreshBefore  time.Duration
	MaxBackoff     time.Duration
	ResolveTimeout time.Duration
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	// Endpoint stays empty when unset so the TOML operator config can
	// supply it.
	endpoint := os.Getenv("HAPIBRIDGE_ENDPOINT")

	level := os.Getenv("HAPIBRIDGE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	// Push level also defers to the TOML operator config when unset.
	pushLevel := os.Getenv("HAPIBRIDGE_PUSH_LEVEL")

	configDir := os.Getenv("HAPIBRIDGE_CONFIG_DIR")
	if configDir == "" {
		configDir = defaultConfigDir()
	}

	dbPath := os.Getenv("HAPIBRIDGE_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(configDir, "hapibridge.db")
	}

	jwtLifetime := secondsOrDefault(os.Getenv("HAPIBRIDGE_JWT_LIFETIME"), 900)
	refreshBefore := secondsOrDefault(os.Getenv("HAPIBRIDGE_REFRESH_BEFORE"), 180)
	maxBackoff := secondsOrDefault(os.Getenv("HAPIBRIDGE_MAX_BACKOFF"), 60)
	resolveTimeout := secondsOrDefault(os.Getenv("HAPIBRIDGE_RESOLVE_TIMEOUT"), 15)

	return Config{
		Endpoint:       endpoint,
		AccessToken:    os.Getenv("HAPIBRIDGE_ACCESS_TOKEN"),
		ProxyURL:       os.Getenv("HAPIBRIDGE_PROXY_URL"),
		LogLevel:       level,
		ConfigDir:      configDir,
		DBPath:         dbPath,
		PushLevel:      pushLevel,
		JWTLifetime:    jwtLifetime,
		RefreshBefore:  refreshBefore,
		MaxBackoff:     maxBackoff,
		ResolveTimeout: resolveTimeout,
	}
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean(".hapibridge")
	}
	return filepath.Join(home, ".hapibridge")
}

func secondsOrDefault(v string, fallback int) time.Duration {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return time.Duration(fallback) * time.Second
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return time.Duration(fallback) * time.Second
	}
	return time.Duration(n) * time.Second
}
