package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drallgood/apptest/internal/database"
)

// EnvConfigFile names the environment variable that points at a config file
const EnvConfigFile = "APPTEST_CONFIG"

// Config holds all configuration for an application under test
type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	App struct {
		// Debug exposes error messages in rendered error responses
		Debug bool `yaml:"debug"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database database.DatabaseConfig `yaml:"database"`

	HTTP struct {
		Timeout    time.Duration `yaml:"timeout"`
		GraphQLURL string        `yaml:"graphql_url"`
	} `yaml:"http"`
}

// Default returns the configuration used when no file or environment is present
func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "console"
	cfg.Server.Addr = ":8080"
	cfg.Database = *database.DefaultConfig()
	cfg.HTTP.Timeout = 30 * time.Second
	cfg.HTTP.GraphQLURL = "http://localhost/graphql"
	return cfg
}

// Load builds the configuration from defaults, then the YAML file (if any),
// then environment variables. An empty configFile falls back to APPTEST_CONFIG.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv(EnvConfigFile)
	}

	if configFile != "" {
		if err := loadFile(cfg, configFile); err != nil {
			return nil, err
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Keys missing from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if level := os.Getenv("APPTEST_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("APPTEST_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if debug := os.Getenv("APPTEST_DEBUG"); debug != "" {
		b, err := strconv.ParseBool(debug)
		if err != nil {
			return &ConfigError{Field: "APPTEST_DEBUG", Msg: "must be a boolean"}
		}
		cfg.App.Debug = b
	}
	if addr := os.Getenv("APPTEST_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if timeout := os.Getenv("APPTEST_HTTP_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return &ConfigError{Field: "APPTEST_HTTP_TIMEOUT", Msg: "must be a duration"}
		}
		cfg.HTTP.Timeout = d
	}
	if url := os.Getenv("APPTEST_GRAPHQL_URL"); url != "" {
		cfg.HTTP.GraphQLURL = strings.TrimSuffix(url, "/")
	}

	if err := cfg.Database.ApplyEnv(); err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}
	return nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.HTTP.Timeout < 0 {
		return &ConfigError{Field: "http.timeout", Msg: "must not be negative"}
	}
	if err := c.Database.Validate(); err != nil {
		return &ConfigError{Field: "database", Msg: err.Error()}
	}
	return nil
}

// YAML renders the configuration with the password masked
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Database.Password != "" {
		masked.Database.Password = "********"
	}
	return yaml.Marshal(&masked)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// EnvVar is one environment variable assignment
type EnvVar struct {
	Name  string
	Value string
}

// Env returns the environment variables that reproduce c on top of the
// defaults. The database password is never included.
func (c *Config) Env() []EnvVar {
	vars := []EnvVar{
		{"APPTEST_LOG_LEVEL", c.Logging.Level},
		{"APPTEST_LOG_FORMAT", c.Logging.Format},
		{"APPTEST_DEBUG", strconv.FormatBool(c.App.Debug)},
		{"APPTEST_SERVER_ADDR", c.Server.Addr},
		{"APPTEST_HTTP_TIMEOUT", c.HTTP.Timeout.String()},
		{"APPTEST_GRAPHQL_URL", c.HTTP.GraphQLURL},
		{"DATABASE_TYPE", string(c.Database.Type)},
		{"DATABASE_PATH", c.Database.Path},
		{"DATABASE_HOST", c.Database.Host},
		{"DATABASE_NAME", c.Database.Database},
		{"DATABASE_USER", c.Database.Username},
		{"DATABASE_SSL_MODE", c.Database.SSLMode},
	}
	if c.Database.Port != 0 {
		vars = append(vars, EnvVar{"DATABASE_PORT", strconv.Itoa(c.Database.Port)})
	}

	out := vars[:0]
	for _, v := range vars {
		if v.Value != "" {
			out = append(out, v)
		}
	}
	return out
}
