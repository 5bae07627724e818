package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the config reads.
const EnvPrefix = "VI_"

const insecureJWTSecret = "supersecretkey"

type Config struct {
	Addr           string        `yaml:"addr" env:"ADDR" envDefault:":8080"`
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET" envDefault:"supersecretkey"`
	APITimeout     time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"15s"`
	DatabasePath   string        `yaml:"database_path" env:"DATABASE_PATH" envDefault:"initiatives.db"`
	TokenDuration  time.Duration `yaml:"token_duration" env:"TOKEN_DURATION" envDefault:"1h"`
	MigrateOnStart bool          `yaml:"migrate_on_start" env:"MIGRATE_ON_START" envDefault:"true"`
	SeedPath       string        `yaml:"seed_path" env:"SEED_PATH"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`
	Catalog        CatalogConfig `yaml:"catalog" envPrefix:"CATALOG_"`
	LoginRate      RateConfig    `yaml:"login_rate" envPrefix:"LOGIN_RATE_"`
	Client         ClientConfig  `yaml:"client" envPrefix:"CLIENT_"`
}

// CatalogConfig points at the initiatives CSV. An empty Path serves the
// embedded default catalog.
type CatalogConfig struct {
	Path  string `yaml:"path" env:"PATH"`
	Watch bool   `yaml:"watch" env:"WATCH" envDefault:"true"`
}

// RateConfig limits signin attempts per email and client address.
type RateConfig struct {
	PerMinute int `yaml:"per_minute" env:"PER_MINUTE" envDefault:"10"`
	Burst     int `yaml:"burst" env:"BURST" envDefault:"5"`
}

// ClientConfig drives the CLI client commands.
type ClientConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL" envDefault:"http://localhost:8080"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"10s"`
	SessionDir string        `yaml:"session_dir" env:"SESSION_DIR"`
	Revalidate bool          `yaml:"revalidate" env:"REVALIDATE"`
	Retries    int           `yaml:"retries" env:"RETRIES" envDefault:"2"`
	Backoff    time.Duration `yaml:"backoff" env:"BACKOFF" envDefault:"200ms"`
	// CircuitFailureThreshold opens the circuit after this many consecutive failures.
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold" env:"CIRCUIT_FAILURE_THRESHOLD" envDefault:"5"`
	CircuitReset            time.Duration `yaml:"circuit_reset" env:"CIRCUIT_RESET" envDefault:"30s"`
}

// LoadConfig builds the configuration from defaults and VI_* environment
// variables, then applies the YAML file at path on top when path is set.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if cfg.Client.SessionDir == "" {
		cfg.Client.SessionDir = defaultSessionDir()
	}

	return cfg, nil
}

func defaultSessionDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "initiatives" + string(os.PathSeparator) + "sessions"
	}
	return ".initiatives-sessions"
}

// IsDevelopment reports whether VI_ENV is set to development.
func IsDevelopment() bool {
	return strings.EqualFold(os.Getenv(EnvPrefix+"ENV"), "development")
}

// Validate checks the values the server cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	} else if c.JWTSecret == insecureJWTSecret && !IsDevelopment() {
		errs = append(errs, fmt.Errorf("jwt_secret is the insecure default; set %sJWT_SECRET or %sENV=development", EnvPrefix, EnvPrefix))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.TokenDuration <= 0 {
		errs = append(errs, errors.New("token_duration must be positive"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.LoginRate.PerMinute <= 0 || c.LoginRate.Burst <= 0 {
		errs = append(errs, errors.New("login_rate per_minute and burst must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not json or text", c.LogFormat))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}

	return errors.Join(errs...)
}
