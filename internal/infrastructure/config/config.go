package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	DBMaxConns  int32  `yaml:"db_max_conns"`

	CursorHashKey  []byte `yaml:"-"` // base64
	CursorBlockKey []byte `yaml:"-"` // base64
	APITokenHash   []byte `yaml:"-"` // bcrypt

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	SweepInterval   time.Duration `yaml:"sweep_interval"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
}

// fileConfig mirrors the YAML layout; secrets are plain strings there.
type fileConfig struct {
	Config         `yaml:",inline"`
	CursorHashKey  string `yaml:"cursor_hash_key"`
	CursorBlockKey string `yaml:"cursor_block_key"`
	APITokenHash   string `yaml:"api_token_hash"`
}

func defaults() fileConfig {
	return fileConfig{Config: Config{
		HTTPAddr:        ":8080",
		Backend:         BackendMemory,
		SQLitePath:      "rsvpd.db",
		DBMaxConns:      10,
		LogLevel:        "info",
		LogFormat:       "text",
		SweepInterval:   time.Minute,
		DefaultPageSize: 50,
		MaxPageSize:     500,
	}}
}

// FromEnv reads the configuration from the environment, layered over the
// YAML file named by RSVPD_CONFIG when set.
func FromEnv() (Config, error) {
	return Load(os.Getenv("RSVPD_CONFIG"))
}

// Load reads path (if non-empty) and then applies environment overrides.
func Load(path string) (Config, error) {
	fc := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg := fc.Config
	cfg.HTTPAddr = envDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Backend = strings.ToLower(envDefault("BACKEND", cfg.Backend))
	cfg.DatabaseURL = envDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.LogLevel = envDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envDefault("LOG_FORMAT", cfg.LogFormat)

	var err error
	if cfg.DBMaxConns, err = envInt32("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return Config{}, err
	}
	if cfg.DefaultPageSize, err = envInt("DEFAULT_PAGE_SIZE", cfg.DefaultPageSize); err != nil {
		return Config{}, err
	}
	if cfg.MaxPageSize, err = envInt("MAX_PAGE_SIZE", cfg.MaxPageSize); err != nil {
		return Config{}, err
	}
	if v := envDefault("SWEEP_INTERVAL", ""); v != "" {
		if cfg.SweepInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("SWEEP_INTERVAL: %w", err)
		}
	}

	if cfg.CursorHashKey, err = optB64("CURSOR_HASH_KEY", fc.CursorHashKey); err != nil {
		return Config{}, err
	}
	if cfg.CursorBlockKey, err = optB64("CURSOR_BLOCK_KEY", fc.CursorBlockKey); err != nil {
		return Config{}, err
	}
	if h := envDefault("API_TOKEN_HASH", fc.APITokenHash); h != "" {
		cfg.APITokenHash = []byte(h)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown BACKEND %q (want memory, postgres or sqlite)", c.Backend)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be >= 0")
	}
	if c.DefaultPageSize < 1 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("page sizes must satisfy 1 <= DEFAULT_PAGE_SIZE (%d) <= MAX_PAGE_SIZE (%d)", c.DefaultPageSize, c.MaxPageSize)
	}
	if len(c.CursorBlockKey) > 0 {
		switch len(c.CursorBlockKey) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("CURSOR_BLOCK_KEY must decode to 16, 24 or 32 bytes (got %d)", len(c.CursorBlockKey))
		}
	}
	return nil
}

// RequireCursorKeys reports whether the keys needed by the HTTP server are set.
func (c Config) RequireCursorKeys() error {
	if len(c.CursorHashKey) == 0 || len(c.CursorBlockKey) == 0 {
		return fmt.Errorf("CURSOR_HASH_KEY and CURSOR_BLOCK_KEY are required (base64; run `rsvpd keys`)")
	}
	return nil
}

func envDefault(k, d string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	return v
}

func envInt(k string, d int) (int, error) {
	v := envDefault(k, "")
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

func envInt32(k string, d int32) (int32, error) {
	v := envDefault(k, "")
	if v == "" {
		return d, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return int32(n), nil
}

func optB64(k, fromFile string) ([]byte, error) {
	v := envDefault(k, strings.TrimSpace(fromFile))
	if v == "" {
		return nil, nil
	}
	b, err := decodeB64(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func decodeB64(v string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(v)
}
