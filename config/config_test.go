package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.HTTPAddr())
	assert.Equal(t, ":3215", cfg.LineAddr)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, "data/database.json", cfg.DBFile)
	assert.True(t, cfg.Seed)
	assert.Equal(t, BlobDisk, cfg.Blob)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("PAIRCHAT_STORE", "sqlite")
	t.Setenv("PAIRCHAT_TYPING_TTL", "2500ms")
	t.Setenv("PAIRCHAT_LINE_ADDR", "off")
	t.Setenv("PAIRCHAT_SEED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 2500*time.Millisecond, cfg.TypingTTL)
	assert.False(t, cfg.Seed)
	assert.False(t, Enabled(cfg.LineAddr))
	assert.True(t, Enabled(cfg.ControlSocket))
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "bad store", mutate: func(c *Config) { c.Store = "mongo" }, wantErr: `unknown store "mongo"`},
		{name: "bad blob", mutate: func(c *Config) { c.Blob = "ftp" }, wantErr: `unknown blob backend "ftp"`},
		{name: "zero ttl", mutate: func(c *Config) { c.TypingTTL = 0 }, wantErr: "typing ttl must be positive"},
		{name: "zero queue", mutate: func(c *Config) { c.QueueSize = 0 }, wantErr: "sizes must be positive"},
		{name: "port range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
