package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"venue-backend/config"
	"venue-backend/internal/model"
)

// Supported values for database.driver.
const (
	DriverSQLite   = "sqlite"  // pure Go
	DriverSQLite3  = "sqlite3" // cgo
	DriverPostgres = "postgres"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if cfg.Driver != DriverPostgres {
		applyPragmas(db)
	}

	log.Info().Str("driver", cfg.Driver).Msg("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Msg("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates every engine table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Reservation{},
		&model.RoomStats{},
		&model.Auction{},
		&model.BidHistoryEntry{},
		&model.Settlement{},
		&model.PushSubscription{},
		&model.RoomSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverSQLite3:
		return sqlite.Open(cfg.DSN), nil
	case DriverSQLite, "":
		if err := ensureParentDir(cfg.DSN); err != nil {
			return nil, err
		}
		return glebarez.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// ensureParentDir fails early when a file-backed database points into a
// directory that does not exist.
func ensureParentDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("database directory: %w", err)
		}
	}
	return nil
}

func applyPragmas(db *gorm.DB) {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to apply sqlite pragma")
		}
	}
}
