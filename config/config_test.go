package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kolabdav.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "", cfg.BasePath)
	assert.Equal(t, "3.0", cfg.VCardVersion)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, "user", cfg.Principal.Name)
	assert.False(t, cfg.AggregateAddressBook)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
base_path: /dav/
log_level: debug
vcard_version: "4.0"
aggregate_addressbook: true
cache:
  ttl: 2m
  max_entries: 50
principal:
  name: jane
  emails: [jane@example.org, j.doe@example.org]
seed_dir: /srv/seed
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/dav", cfg.BasePath)
	assert.Equal(t, "4.0", cfg.VCardVersion)
	assert.True(t, cfg.AggregateAddressBook)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, "jane", cfg.Principal.Name)
	assert.Equal(t, []string{"jane@example.org", "j.doe@example.org"}, cfg.Principal.Emails)
	assert.Equal(t, "/srv/seed", cfg.SeedDir)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	shared := cfg.SharedCache()
	assert.Equal(t, 2*time.Minute, shared.TTL)
	assert.Equal(t, 50, shared.MaxEntries)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen: \":9090\"\nprincipal:\n  name: jane\n")

	t.Setenv("KOLABDAV_LISTEN", ":7070")
	t.Setenv("KOLABDAV_BASE_PATH", "gw")
	t.Setenv("KOLABDAV_EMAILS", "a@example.org, b@example.org,")
	t.Setenv("KOLABDAV_AGGREGATE_ADDRESSBOOK", "yes")
	t.Setenv("KOLABDAV_CACHE_TTL", "30s")
	t.Setenv("KOLABDAV_CACHE_MAX_ENTRIES", "10")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "/gw", cfg.BasePath)
	assert.Equal(t, "jane", cfg.Principal.Name)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, cfg.Principal.Emails)
	assert.True(t, cfg.AggregateAddressBook)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "malformed yaml", file: "listen: [unterminated"},
		{name: "vcard version", file: `vcard_version: "2.1"`},
		{name: "log level", file: "log_level: loud"},
		{name: "principal name", file: "principal:\n  name: a/b"},
		{name: "env bool", env: map[string]string{"KOLABDAV_AGGREGATE_ADDRESSBOOK": "maybe"}},
		{name: "env duration", env: map[string]string{"KOLABDAV_CACHE_TTL": "soon"}},
		{name: "env integer", env: map[string]string{"KOLABDAV_CACHE_MAX_ENTRIES": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
