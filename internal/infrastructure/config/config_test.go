package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HTTP_ADDR", "BACKEND", "DATABASE_URL", "SQLITE_PATH", "DB_MAX_CONNS",
	"CURSOR_HASH_KEY", "CURSOR_BLOCK_KEY", "API_TOKEN_HASH", "LOG_LEVEL", "LOG_FORMAT",
	"SWEEP_INTERVAL", "DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE", "RSVPD_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.DefaultPageSize)
	assert.Equal(t, 500, cfg.MaxPageSize)
	assert.Empty(t, cfg.APITokenHash)
	assert.Error(t, cfg.RequireCursorKeys())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	hashKey := base64.StdEncoding.EncodeToString(make([]byte, 32))
	blockKey := base64.StdEncoding.EncodeToString(make([]byte, 16))

	path := filepath.Join(t.TempDir(), "rsvpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
backend: sqlite
sqlite_path: /var/lib/rsvpd/data.db
sweep_interval: 30s
log_level: debug
cursor_hash_key: `+hashKey+`
cursor_block_key: `+blockKey+`
api_token_hash: "$2a$10$abcdefghijklmnopqrstuv"
`), 0o600))

	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("MAX_PAGE_SIZE", "200")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPAddr, "env wins over file")
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/var/lib/rsvpd/data.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 200, cfg.MaxPageSize)
	assert.Len(t, cfg.CursorHashKey, 32)
	assert.Len(t, cfg.CursorBlockKey, 16)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", string(cfg.APITokenHash))
	assert.NoError(t, cfg.RequireCursorKeys())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"BACKEND": "postgres"}},
		{"unknown backend", map[string]string{"BACKEND": "mongo"}},
		{"bad sweep", map[string]string{"SWEEP_INTERVAL": "often"}},
		{"negative sweep", map[string]string{"SWEEP_INTERVAL": "-1s"}},
		{"bad page size", map[string]string{"DEFAULT_PAGE_SIZE": "x"}},
		{"page sizes inverted", map[string]string{"DEFAULT_PAGE_SIZE": "100", "MAX_PAGE_SIZE": "10"}},
		{"bad base64", map[string]string{"CURSOR_HASH_KEY": "!!!"}},
		{"bad block key size", map[string]string{"CURSOR_BLOCK_KEY": base64.StdEncoding.EncodeToString(make([]byte, 7))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
