// Package database opens the SQLite store that backs watch history
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/justchokingaround/ciphertv/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database at cfg.Path, applies pragmas and brings the
// schema up to date
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	conns := cfg.MaxConnections
	if conns <= 0 {
		conns = 1
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(max(conns/2, 1))

	if cfg.WALMode {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if cfg.AutoVacuum {
		if err := db.Exec("PRAGMA auto_vacuum=INCREMENTAL").Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to enable auto vacuum: %w", err)
		}
	}

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run auto migrations: %w\n\n"+
			"Hint: if the database was created by an older version, delete %s and restart", err, cfg.Path)
	}
	if err := RunMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
