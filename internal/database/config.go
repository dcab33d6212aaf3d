package database

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DatabaseType represents the supported database types
type DatabaseType string

const (
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypeSQLitePure DatabaseType = "sqlite-pure"
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeMySQL      DatabaseType = "mysql"
	DatabaseTypeMariaDB    DatabaseType = "mariadb"
)

// MemoryPath is the SQLite path for a private in-memory database
const MemoryPath = ":memory:"

// DatabaseConfig holds the configuration for database connections
type DatabaseConfig struct {
	Type     DatabaseType `json:"type" yaml:"type"`
	Host     string       `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int          `json:"port,omitempty" yaml:"port,omitempty"`
	Database string       `json:"database,omitempty" yaml:"database,omitempty"`
	Username string       `json:"username,omitempty" yaml:"username,omitempty"`
	Password string       `json:"password,omitempty" yaml:"password,omitempty"`
	SSLMode  string       `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	Path     string       `json:"path,omitempty" yaml:"path,omitempty"` // For SQLite

	MaxOpenConns    int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"` // in minutes
}

// DefaultConfig returns the configuration used by tests when nothing else is set:
// a private in-memory SQLite database
func DefaultConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type: DatabaseTypeSQLite,
		Path: MemoryPath,
	}
}

// ParseDatabaseType maps user input to a DatabaseType, accepting common aliases
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	case "sqlite-pure", "sqlite_pure":
		return DatabaseTypeSQLitePure, nil
	case "postgresql", "postgres", "pg":
		return DatabaseTypePostgreSQL, nil
	case "mysql":
		return DatabaseTypeMySQL, nil
	case "mariadb":
		return DatabaseTypeMariaDB, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// ApplyEnv overrides fields of c from DATABASE_* environment variables
func (c *DatabaseConfig) ApplyEnv() error {
	if dbType := os.Getenv("DATABASE_TYPE"); dbType != "" {
		t, err := ParseDatabaseType(dbType)
		if err != nil {
			return err
		}
		c.Type = t
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		c.Path = path
	}
	if host := os.Getenv("DATABASE_HOST"); host != "" {
		c.Host = host
	}
	if name := os.Getenv("DATABASE_NAME"); name != "" {
		c.Database = name
	}
	if user := os.Getenv("DATABASE_USER"); user != "" {
		c.Username = user
	}
	if password, set := os.LookupEnv("DATABASE_PASSWORD"); set {
		c.Password = password
	}
	if sslMode := os.Getenv("DATABASE_SSL_MODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
	if port := os.Getenv("DATABASE_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PORT %q: %w", port, err)
		}
		c.Port = p
	}
	c.applyDefaults()
	return nil
}

func (c *DatabaseConfig) applyDefaults() {
	switch c.Type {
	case DatabaseTypePostgreSQL:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "prefer"
		}
	case DatabaseTypeMySQL, DatabaseTypeMariaDB:
		if c.Port == 0 {
			c.Port = 3306
		}
	}
	if c.Type != DatabaseTypeSQLite && c.Type != DatabaseTypeSQLitePure {
		if c.MaxOpenConns == 0 {
			c.MaxOpenConns = 25
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = 5
		}
		if c.ConnMaxLifetime == 0 {
			c.ConnMaxLifetime = 60
		}
	}
}

// Validate checks if the database configuration is valid
func (c *DatabaseConfig) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite, DatabaseTypeSQLitePure:
		if c.Path == "" {
			return fmt.Errorf("SQLite database path is required")
		}
	case DatabaseTypePostgreSQL, DatabaseTypeMySQL, DatabaseTypeMariaDB:
		if c.Host == "" {
			return fmt.Errorf("database host is required for %s", c.Type)
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required for %s", c.Type)
		}
		if c.Port <= 0 {
			return fmt.Errorf("valid database port is required for %s", c.Type)
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// GetDSN returns the data source name for the database connection
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case DatabaseTypeSQLite, DatabaseTypeSQLitePure:
		return c.Path
	case DatabaseTypePostgreSQL:
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
			c.Host, c.Port, c.Database, c.SSLMode)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		return dsn
	case DatabaseTypeMySQL, DatabaseTypeMariaDB:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	default:
		return ""
	}
}

// InMemory reports whether the config points at an in-memory SQLite database
func (c *DatabaseConfig) InMemory() bool {
	return c.Path == MemoryPath || strings.Contains(c.Path, "mode=memory")
}
