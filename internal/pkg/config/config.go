package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is used when no config file is named explicitly.
const DefaultPath = "config.yaml"

// EnvPrefix marks environment variables that override file values.
// Nested keys are separated by a double underscore, e.g.
// MME_FEDERATION__DEFAULT_TIMEOUT=10s.
const EnvPrefix = "MME_"

// MediaType is the Matchmaker Exchange API media type.
const MediaType = "application/vnd.ga4gh.matchmaker.v1.0+json"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Federation FederationConfig `koanf:"federation"`
	Peers      []PeerConfig     `koanf:"peers"`
	Storage    StorageConfig    `koanf:"storage"`
	Audit      AuditConfig      `koanf:"audit"`
	Events     EventsConfig     `koanf:"events"`
	Schema     SchemaConfig     `koanf:"schema"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Tracing    TracingConfig    `koanf:"tracing"`
}

type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// FederationConfig governs outbound peer calls.
type FederationConfig struct {
	NodeID         string        `koanf:"node_id"`         // Identity sent to peers when the caller is anonymous
	DefaultTimeout time.Duration `koanf:"default_timeout"` // Used when the caller sends no timeout
	MaxTimeout     time.Duration `koanf:"max_timeout"`     // Upper clamp for caller-supplied timeouts
	Workers        int           `koanf:"workers"`         // Fan-out pool size
	RequireAuth    bool          `koanf:"require_auth"`    // Reject requests without X-Auth-Token
	PeerRateLimit  float64       `koanf:"peer_rate_limit"` // Requests per second per peer, 0 disables
	PeerRateBurst  int           `koanf:"peer_rate_burst"` // Burst for PeerRateLimit
	MediaType      string        `koanf:"media_type"`      // Content-Type/Accept for peer calls
	MaxBodyBytes   int64         `koanf:"max_body_bytes"`  // Cap on inbound and peer bodies
}

// PeerConfig declares a federation partner in the config file.
type PeerConfig struct {
	ID           string `koanf:"id"`
	Name         string `koanf:"name"`
	Direction    string `koanf:"direction"` // inbound/outbound (in/out accepted)
	BaseAddress  string `koanf:"base_address"`
	SharedSecret string `koanf:"shared_secret"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, mysql, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, mysql
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

type AuditConfig struct {
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	RecentDefault int           `koanf:"recent_default"`
}

type EventsConfig struct {
	Type  string      `koanf:"type"` // none, log, kafka
	Kafka KafkaConfig `koanf:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type SchemaConfig struct {
	VocabularyPath string `koanf:"vocabulary_path"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type TracingConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]interface{}{
	"server.host":                "0.0.0.0",
	"server.port":                8000,
	"server.request_timeout":     "90s",
	"federation.node_id":         "mme-broker",
	"federation.default_timeout": "5s",
	"federation.max_timeout":     "60s",
	"federation.workers":         4,
	"federation.require_auth":    true,
	"federation.peer_rate_burst": 1,
	"federation.media_type":      MediaType,
	"federation.max_body_bytes":  int64(4 << 20),
	"storage.type":               "sqlite",
	"storage.sqlite.path":        "./data/broker.db",
	"audit.write_timeout":        "2s",
	"audit.recent_default":       10,
	"events.type":                "log",
	"events.kafka.topic":         "mme.exchanges",
	"metrics.enabled":            true,
	"metrics.path":               "/metrics",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the YAML file at path, then applies MME_ environment
// overrides and defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.expandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	k := koanf.New(".")
	for key, val := range defaults {
		k.Set(key, val)
	}
	var cfg Config
	// defaults are static and always decode
	_ = k.Unmarshal("", &cfg)
	return &cfg
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Federation.DefaultTimeout <= 0 {
		return fmt.Errorf("federation.default_timeout must be positive")
	}
	if c.Federation.MaxTimeout < c.Federation.DefaultTimeout {
		return fmt.Errorf("federation.max_timeout (%s) is below default_timeout (%s)",
			c.Federation.MaxTimeout, c.Federation.DefaultTimeout)
	}
	if c.Federation.Workers <= 0 {
		return fmt.Errorf("federation.workers must be positive")
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// ClampTimeout applies the default and maximum to a caller-supplied timeout.
func (f FederationConfig) ClampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return f.DefaultTimeout
	}
	if f.MaxTimeout > 0 && requested > f.MaxTimeout {
		return f.MaxTimeout
	}
	return requested
}

func (c *Config) expandEnv() {
	for i := range c.Peers {
		c.Peers[i].SharedSecret = substituteEnvVars(c.Peers[i].SharedSecret)
	}
	c.Storage.Database.DSN = substituteEnvVars(c.Storage.Database.DSN)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
