package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultTrendWindow     = 5 * time.Minute
	DefaultRedisTTL        = 10 * time.Minute
	DefaultFallbackSamples = 10
	DefaultFallbackZones   = 100
	DefaultDamping         = 0.3
	DefaultYellow          = 0.5
	DefaultRed             = 0.75
)

// Config holds the full crowdwatch-server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Window     WindowConfig     `yaml:"window"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// HTTPPort serves the ingest API, the WebSocket stream, and /metrics
	// (default 8080).
	HTTPPort int `yaml:"http_port"`
}

// WindowConfig controls the score window store and trend estimation.
type WindowConfig struct {
	// TrendWindow is how far back score history influences trend (default 5m).
	TrendWindow time.Duration `yaml:"trend_window"`

	// RedisTTL is the absolute per-zone key expiry backstop on the
	// networked store (default 10m).
	RedisTTL time.Duration `yaml:"redis_ttl"`

	// FallbackSamples caps per-zone history in the in-process fallback
	// (default 10).
	FallbackSamples int `yaml:"fallback_samples"`

	// FallbackZones caps tracked zones in the in-process fallback
	// (default 100).
	FallbackZones int `yaml:"fallback_zones"`

	// Damping bounds how much trend momentum can distort the raw score
	// (default 0.3). Zero disables trend influence entirely.
	Damping float64 `yaml:"damping"`
}

// RedisConfig locates the networked window store.
type RedisConfig struct {
	// Addr is the host:port of the Redis backend (default localhost:6379).
	Addr string `yaml:"addr"`

	// PasswordEnv names the environment variable holding the Redis
	// password. Empty means no auth.
	PasswordEnv string `yaml:"password_env"`

	// DB is the Redis logical database index.
	DB int `yaml:"db"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// DatabaseConfig locates the Postgres record store.
type DatabaseConfig struct {
	// DSNEnv names the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the Postgres connection string resolved from the environment.
func (d DatabaseConfig) DSN() string {
	if d.DSNEnv == "" {
		return ""
	}
	return os.Getenv(d.DSNEnv)
}

// ThresholdsConfig holds the global default risk thresholds plus per-zone
// overrides. This section is hot-reloadable via Watch.
type ThresholdsConfig struct {
	// DefaultYellow and DefaultRed apply to any zone without an override.
	DefaultYellow float64 `yaml:"default_yellow"`
	DefaultRed    float64 `yaml:"default_red"`

	Zones []ZoneThreshold `yaml:"zones"`
}

// equal reports whether two threshold sections match, overrides included.
func (t ThresholdsConfig) equal(o ThresholdsConfig) bool {
	if t.DefaultYellow != o.DefaultYellow || t.DefaultRed != o.DefaultRed || len(t.Zones) != len(o.Zones) {
		return false
	}
	for i := range t.Zones {
		if t.Zones[i] != o.Zones[i] {
			return false
		}
	}
	return true
}

// ZoneThreshold overrides the risk thresholds for one zone.
type ZoneThreshold struct {
	Zone   string  `yaml:"zone"`
	Yellow float64 `yaml:"yellow"`
	Red    float64 `yaml:"red"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		Window: WindowConfig{
			TrendWindow:     DefaultTrendWindow,
			RedisTTL:        DefaultRedisTTL,
			FallbackSamples: DefaultFallbackSamples,
			FallbackZones:   DefaultFallbackZones,
			Damping:         DefaultDamping,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Thresholds: ThresholdsConfig{
			DefaultYellow: DefaultYellow,
			DefaultRed:    DefaultRed,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Window.TrendWindow <= 0 {
		return fmt.Errorf("window.trend_window must be positive")
	}
	if cfg.Window.RedisTTL < cfg.Window.TrendWindow {
		return fmt.Errorf("window.redis_ttl %v must not be shorter than the trend window %v",
			cfg.Window.RedisTTL, cfg.Window.TrendWindow)
	}
	if cfg.Window.FallbackSamples <= 0 || cfg.Window.FallbackZones <= 0 {
		return fmt.Errorf("window fallback caps must be positive")
	}
	if cfg.Window.Damping < 0 || cfg.Window.Damping > 1 {
		return fmt.Errorf("window.damping %v must lie in [0, 1]", cfg.Window.Damping)
	}
	if err := validateBand("thresholds", cfg.Thresholds.DefaultYellow, cfg.Thresholds.DefaultRed); err != nil {
		return err
	}
	for _, z := range cfg.Thresholds.Zones {
		if z.Zone == "" {
			return fmt.Errorf("thresholds.zones entry is missing a zone id")
		}
		if err := validateBand("thresholds.zones["+z.Zone+"]", z.Yellow, z.Red); err != nil {
			return err
		}
	}
	return nil
}

func validateBand(where string, yellow, red float64) error {
	if yellow <= 0 || yellow >= 1 || red <= 0 || red > 1 {
		return fmt.Errorf("%s: thresholds must lie in (0, 1]", where)
	}
	if yellow >= red {
		return fmt.Errorf("%s: yellow %v must be below red %v", where, yellow, red)
	}
	return nil
}
