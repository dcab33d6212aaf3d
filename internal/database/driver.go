package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/drallgood/apptest/internal/logger"

	// Pure Go SQLite driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

// DatabaseDriver opens gorm connections for one database type
type DatabaseDriver interface {
	GetDialector(config *DatabaseConfig) gorm.Dialector
	PrepareDatabase(config *DatabaseConfig) error
	Configure(db *gorm.DB, config *DatabaseConfig) error
}

// SQLiteDriver implements DatabaseDriver for SQLite through mattn/go-sqlite3
type SQLiteDriver struct{}

func (d *SQLiteDriver) GetDialector(config *DatabaseConfig) gorm.Dialector {
	return sqlite.Open(config.Path)
}

func (d *SQLiteDriver) PrepareDatabase(config *DatabaseConfig) error {
	return prepareSQLiteDir(config)
}

func (d *SQLiteDriver) Configure(db *gorm.DB, config *DatabaseConfig) error {
	return configureSQLite(db)
}

// PureSQLiteDriver implements DatabaseDriver for SQLite using modernc.org/sqlite (no cgo)
type PureSQLiteDriver struct{}

func (d *PureSQLiteDriver) GetDialector(config *DatabaseConfig) gorm.Dialector {
	return sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}
}

func (d *PureSQLiteDriver) PrepareDatabase(config *DatabaseConfig) error {
	return prepareSQLiteDir(config)
}

func (d *PureSQLiteDriver) Configure(db *gorm.DB, config *DatabaseConfig) error {
	return configureSQLite(db)
}

func prepareSQLiteDir(config *DatabaseConfig) error {
	if config.InMemory() || strings.HasPrefix(config.Path, "file:") {
		return nil
	}
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func configureSQLite(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// One connection keeps an in-memory database alive and private
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.Exec("PRAGMA foreign_keys=ON").Error; err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// PostgreSQLDriver implements DatabaseDriver for PostgreSQL
type PostgreSQLDriver struct{}

func (d *PostgreSQLDriver) GetDialector(config *DatabaseConfig) gorm.Dialector {
	return postgres.Open(config.GetDSN())
}

func (d *PostgreSQLDriver) PrepareDatabase(config *DatabaseConfig) error {
	return nil
}

func (d *PostgreSQLDriver) Configure(db *gorm.DB, config *DatabaseConfig) error {
	return configurePool(db, config)
}

// MySQLDriver implements DatabaseDriver for MySQL/MariaDB
type MySQLDriver struct{}

func (d *MySQLDriver) GetDialector(config *DatabaseConfig) gorm.Dialector {
	return mysql.Open(config.GetDSN())
}

func (d *MySQLDriver) PrepareDatabase(config *DatabaseConfig) error {
	return nil
}

func (d *MySQLDriver) Configure(db *gorm.DB, config *DatabaseConfig) error {
	return configurePool(db, config)
}

func configurePool(db *gorm.DB, config *DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Minute)
	return nil
}

// GetDatabaseDriver returns the appropriate driver for the given database type
func GetDatabaseDriver(dbType DatabaseType) (DatabaseDriver, error) {
	switch dbType {
	case DatabaseTypeSQLite:
		return &SQLiteDriver{}, nil
	case DatabaseTypeSQLitePure:
		return &PureSQLiteDriver{}, nil
	case DatabaseTypePostgreSQL:
		return &PostgreSQLDriver{}, nil
	case DatabaseTypeMySQL, DatabaseTypeMariaDB:
		return &MySQLDriver{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Connect validates config, opens the database and applies driver settings.
// Tests get no fallback: a misconfigured database is an error.
func Connect(config *DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	driver, err := GetDatabaseDriver(config.Type)
	if err != nil {
		return nil, err
	}
	if err := driver.PrepareDatabase(config); err != nil {
		return nil, err
	}

	db, err := gorm.Open(driver.GetDialector(config), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", config.Type, err)
	}

	if err := driver.Configure(db, config); err != nil {
		return nil, err
	}

	log.Debug("Database connection established", map[string]interface{}{
		"type": config.Type,
		"host": config.Host,
		"path": config.Path,
	})

	return db, nil
}

// Health pings the database behind db
func Health(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool behind db
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
