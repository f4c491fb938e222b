// Package config loads the gateway configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyp0633/kolabdav/cache"
	"github.com/cyp0633/kolabdav/wire"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KOLABDAV_"

// CacheConfig sizes the cache shared between requests.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// PrincipalConfig names the served principal and its addresses.
type PrincipalConfig struct {
	Name string `yaml:"name"`
	// Emails are the addresses attendee participation is matched against.
	Emails []string `yaml:"emails"`
}

// Config is the top-level gateway configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// BasePath is the URL prefix all routes are mounted under.
	BasePath string `yaml:"base_path"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// VCardVersion is served to clients that do not ask for a version.
	VCardVersion string `yaml:"vcard_version"`
	// AggregateAddressBook adds a collection merging all address books.
	AggregateAddressBook bool            `yaml:"aggregate_addressbook"`
	Cache                CacheConfig     `yaml:"cache"`
	Principal            PrincipalConfig `yaml:"principal"`
	// SeedDir holds documents loaded into the in-memory store at startup.
	SeedDir string `yaml:"seed_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		LogLevel:     "info",
		VCardVersion: wire.VCard3,
		Cache: CacheConfig{
			TTL:        cache.DefaultConfig.TTL,
			MaxEntries: cache.DefaultConfig.MaxEntries,
		},
		Principal: PrincipalConfig{Name: "user"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills zero values with defaults and canonicalizes the base path.
func (c *Config) Normalize() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.VCardVersion == "" {
		c.VCardVersion = def.VCardVersion
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Principal.Name == "" {
		c.Principal.Name = def.Principal.Name
	}

	c.BasePath = strings.Trim(strings.TrimSpace(c.BasePath), "/")
	if c.BasePath != "" {
		c.BasePath = "/" + c.BasePath
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.VCardVersion != wire.VCard3 && c.VCardVersion != wire.VCard4 {
		return fmt.Errorf("unsupported vcard_version %q", c.VCardVersion)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if strings.ContainsAny(c.Principal.Name, "/ ") {
		return errors.New("principal name must not contain slashes or spaces")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

// SharedCache returns the shared cache settings.
func (c *Config) SharedCache() cache.Config {
	return cache.Config{
		TTL:             c.Cache.TTL,
		MaxEntries:      c.Cache.MaxEntries,
		CleanupInterval: c.Cache.TTL / 3,
	}
}

func (c *Config) applyEnv() error {
	setString(&c.Listen, "LISTEN")
	setString(&c.BasePath, "BASE_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.VCardVersion, "VCARD_VERSION")
	setString(&c.Principal.Name, "PRINCIPAL")
	setString(&c.SeedDir, "SEED_DIR")
	if v, ok := lookup("EMAILS"); ok {
		c.Principal.Emails = splitList(v)
	}

	if v, ok := lookup("AGGREGATE_ADDRESSBOOK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%sAGGREGATE_ADDRESSBOOK: %w", EnvPrefix, err)
		}
		c.AggregateAddressBook = b
	}
	if v, ok := lookup("CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_TTL: %w", EnvPrefix, err)
		}
		c.Cache.TTL = d
	}
	if v, ok := lookup("CACHE_MAX_ENTRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_MAX_ENTRIES: %w", EnvPrefix, err)
		}
		c.Cache.MaxEntries = n
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func splitList(v string) []string {
	var result []string
	for _, item := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
