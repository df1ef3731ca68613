package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the annotation service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Converter ConverterConfig `mapstructure:"converter"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// Verbose reports whether per-annotation debug lines should be logged.
func (g GeneralConfig) Verbose() bool {
	return g.Debug || strings.EqualFold(strings.TrimSpace(g.LogLevel), "debug")
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"` // empty disables auth on /api
}

const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// SessionConfig controls session lifetime and document leases.
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	Lock            string        `mapstructure:"lock"` // memory or redis
}

func (s SessionConfig) Normalize() SessionConfig {
	s.Lock = strings.ToLower(strings.TrimSpace(s.Lock))
	if s.Lock == "" {
		s.Lock = LockMemory
	}
	if s.TTL <= 0 {
		s.TTL = 15 * time.Minute
	}
	if s.JanitorInterval <= 0 {
		s.JanitorInterval = time.Minute
	}
	return s
}

func (s SessionConfig) Validate() error {
	switch s.Lock {
	case LockMemory, LockRedis:
		return nil
	}
	return fmt.Errorf("session.lock must be %q or %q, got %q", LockMemory, LockRedis, s.Lock)
}

// FetchConfig configures downloads of source documents.
type FetchConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	Retries            int           `mapstructure:"retries"`
	Backoff            time.Duration `mapstructure:"backoff"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxBytes           int64         `mapstructure:"max_bytes"`
}

func (f FetchConfig) Validate() error {
	if f.Retries < 0 {
		return fmt.Errorf("fetch.retries must be >= 0")
	}
	if f.MaxBytes < 0 {
		return fmt.Errorf("fetch.max_bytes must be >= 0")
	}
	return nil
}

// StorageConfig contains artifact and Redis settings
type StorageConfig struct {
	ResultDir string      `mapstructure:"result_dir"`
	TmpDir    string      `mapstructure:"tmp_dir"`
	Redis     RedisConfig `mapstructure:"redis"`
}

func (s StorageConfig) Validate() error {
	if strings.TrimSpace(s.ResultDir) == "" {
		return fmt.Errorf("storage.result_dir required")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig toggles the Prometheus endpoint.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ConverterConfig selects how source documents become element trees.
type ConverterConfig struct {
	Kind          string  `mapstructure:"kind"` // tabula or xml
	LineTolerance float64 `mapstructure:"line_tolerance"`
}

func (c ConverterConfig) Normalize() ConverterConfig {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind == "" {
		c.Kind = "tabula"
	}
	return c
}

func (c ConverterConfig) Validate() error {
	switch c.Kind {
	case "tabula", "xml":
	default:
		return fmt.Errorf("converter.kind must be tabula or xml, got %q", c.Kind)
	}
	if c.LineTolerance < 0 {
		return fmt.Errorf("converter.line_tolerance must be >= 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("session.ttl", "15m")
	v.SetDefault("session.janitor_interval", "1m")
	v.SetDefault("session.lock", LockMemory)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.backoff", "300ms")
	v.SetDefault("fetch.insecure_skip_verify", false)
	v.SetDefault("fetch.max_bytes", 64<<20)
	v.SetDefault("storage.result_dir", "result-file")
	v.SetDefault("storage.tmp_dir", "")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("converter.kind", "tabula")
	v.SetDefault("converter.line_tolerance", 0.0)
}

// Load reads config from path, or searches the usual locations for
// config.json when path is empty. A missing file in the search locations
// is not an error: defaults and ANNOTREE_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ANNOTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Session = cfg.Session.Normalize()
	cfg.Converter = cfg.Converter.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Fetch.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Session.Lock == LockRedis {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return c.Converter.Validate()
}

// LoadConfig is Load for process start-up: it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
