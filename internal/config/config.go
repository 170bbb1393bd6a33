// Package config loads and validates the taskmind TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root taskmind configuration.
type Config struct {
	General   General   `toml:"general"`
	Server    Server    `toml:"server"`
	Store     Store     `toml:"store"`
	Embedding Embedding `toml:"embedding"`
	Retrieval Retrieval `toml:"retrieval"`
}

// General holds process-wide settings.
type General struct {
	LogLevel         string   `toml:"log_level"`
	NamespaceDefault string   `toml:"namespace_default"`
	LockFile         string   `toml:"lock_file"`
	RequestTimeout   Duration `toml:"request_timeout"`
	MaxConcurrent    int      `toml:"max_concurrent"`
}

// Server holds transport bind settings.
type Server struct {
	Mode string `toml:"mode"` // stdio, http, websocket, combined
	Host string `toml:"host"`
	Port int    `toml:"port"`
	CORS string `toml:"cors_origins"`
}

// Store holds vector-store persistence settings.
type Store struct {
	Path string `toml:"path"`
}

// Embedding holds the deterministic embedding provider's settings.
type Embedding struct {
	Dimension int `toml:"dimension"`
}

// Retrieval holds tunables for the smart-context and troubleshoot-matcher
// retrieval services (C5).
type Retrieval struct {
	ContextTokenBudget int     `toml:"context_token_budget"`
	ContextMaxDepth    int     `toml:"context_max_depth"`
	MatchCandidateK    int     `toml:"match_candidate_k"`
	MatchAlpha         float64 `toml:"match_alpha"`
	MatchBeta          float64 `toml:"match_beta"`
	MatchGamma         float64 `toml:"match_gamma"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	return &cloned
}

// Load reads and validates a taskmind TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates a taskmind TOML configuration file.
//
// This mirrors Load but is intentionally named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

// Default returns a fully-defaulted, valid configuration for tests and for
// running the server without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.NamespaceDefault == "" {
		cfg.General.NamespaceDefault = "default"
	}
	if cfg.General.RequestTimeout.Duration == 0 {
		cfg.General.RequestTimeout.Duration = 30 * time.Second
	}
	if cfg.General.MaxConcurrent == 0 {
		cfg.General.MaxConcurrent = 64
	}

	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "stdio"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.CORS == "" {
		cfg.Server.CORS = "*"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data"
	}

	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}

	if cfg.Retrieval.ContextTokenBudget == 0 {
		cfg.Retrieval.ContextTokenBudget = 4000
	}
	if cfg.Retrieval.ContextMaxDepth == 0 {
		cfg.Retrieval.ContextMaxDepth = 2
	}
	if cfg.Retrieval.MatchCandidateK == 0 {
		cfg.Retrieval.MatchCandidateK = 10
	}
	if cfg.Retrieval.MatchAlpha == 0 {
		cfg.Retrieval.MatchAlpha = 1.0
	}
	if cfg.Retrieval.MatchBeta == 0 {
		cfg.Retrieval.MatchBeta = 0.4
	}
	if cfg.Retrieval.MatchGamma == 0 {
		cfg.Retrieval.MatchGamma = 0.1
	}
}

// normalizePaths expands "~" and trims whitespace for configured filesystem paths.
func normalizePaths(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Store.Path = ExpandHome(strings.TrimSpace(cfg.Store.Path))
	cfg.General.LockFile = ExpandHome(strings.TrimSpace(cfg.General.LockFile))
}

func validate(cfg *Config) error {
	switch cfg.Server.Mode {
	case "stdio", "http", "websocket", "combined":
	default:
		return fmt.Errorf("server.mode must be one of stdio, http, websocket, combined, got %q", cfg.Server.Mode)
	}
	if !validNamespace(cfg.General.NamespaceDefault) {
		return fmt.Errorf("general.namespace_default %q is not a valid namespace", cfg.General.NamespaceDefault)
	}
	if cfg.General.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("general.request_timeout must be > 0")
	}
	if cfg.General.MaxConcurrent <= 0 {
		return fmt.Errorf("general.max_concurrent must be > 0")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0")
	}
	if cfg.Retrieval.ContextTokenBudget <= 0 {
		return fmt.Errorf("retrieval.context_token_budget must be > 0")
	}
	if cfg.Retrieval.ContextMaxDepth <= 0 {
		return fmt.Errorf("retrieval.context_max_depth must be >= 1")
	}
	if cfg.Retrieval.MatchCandidateK <= 0 {
		return fmt.Errorf("retrieval.match_candidate_k must be > 0")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

// validNamespace mirrors the namespace grammar in spec.md §3: 1-64 chars,
// lowercase alphanumerics, underscore, and hyphen.
func validNamespace(ns string) bool {
	if len(ns) == 0 || len(ns) > 64 {
		return false
	}
	for _, r := range ns {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ValidateRuntimeReload rejects config changes that require a process
// restart (the store path and embedding dimension determine the on-disk
// schema). Mirrors the teacher's validateRuntimeConfigReload guard.
func ValidateRuntimeReload(oldCfg, newCfg *Config) error {
	if oldCfg == nil || newCfg == nil {
		return fmt.Errorf("invalid config state during reload")
	}
	if oldCfg.Store.Path != newCfg.Store.Path {
		return fmt.Errorf("store.path changed (%q -> %q) and requires restart", oldCfg.Store.Path, newCfg.Store.Path)
	}
	if oldCfg.Embedding.Dimension != newCfg.Embedding.Dimension {
		return fmt.Errorf("embedding.dimension changed (%d -> %d) and requires restart", oldCfg.Embedding.Dimension, newCfg.Embedding.Dimension)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// PortString renders the bind port as a string, for net.JoinHostPort callers.
func (s Server) PortString() string {
	return strconv.Itoa(s.Port)
}
