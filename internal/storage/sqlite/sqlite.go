// Package sqlite opens the SQLite backend via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - Conditional UPDATEs replace SELECT FOR UPDATE
//   - JSONB columns use TEXT type (SQLite stores JSON as text natively)
//   - A single connection serves in-memory databases
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/storage"
	pgstore "github.com/jkaninda/ruhusa/internal/storage/postgres"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path, or MemoryPath.
	JournalMode string // WAL mode by default.
}

// Open creates a SQLite-backed Store and migrates its schema.
// All repositories are shared with the PostgreSQL backend since they operate
// on the same GORM models; the dialect handles the SQL differences.
func Open(cfg Config, slogger *slog.Logger) (*pgstore.Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	var dsn string
	if cfg.Path == MemoryPath {
		dsn = "file::memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	} else {
		// Ensure parent directory exists.
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if cfg.Path == MemoryPath {
		// Every connection to :memory: is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := pgstore.NewStore(db, storage.DriverSQLite)
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}
