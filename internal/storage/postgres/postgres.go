// Package postgres implements PostgreSQL-backed storage using GORM.
// All GORM usage is confined to this package; domain types remain ORM-free.
// The repositories are dialect-neutral and are reused by the SQLite backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/ruhusa/internal/storage"
)

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
	ConnMaxIdleTime time.Duration // Default: 10m
}

func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// OpenStore connects to PostgreSQL, sizes the pool and verifies the
// connection. Callers run Migrate before first use.
func OpenStore(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      NewGormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen, maxIdle := orDefault(cfg.MaxOpenConns, 25), orDefault(cfg.MaxIdleConns, 5)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, 30*time.Minute))
	sqlDB.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, 10*time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	slogger.Info("postgres connected",
		slog.Int("max_open_conns", maxOpen),
		slog.Int("max_idle_conns", maxIdle),
	)
	return NewStore(db, storage.DriverPostgres), nil
}

// Migrate creates or updates every table on db.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(allModels()...)
}

// gormLogger routes GORM's log output through slog with the query context.
type gormLogger struct {
	logger        *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger bridges GORM's logger to slog. Failed and slow queries are
// logged; record-not-found is not a failure.
func NewGormLogger(slogger *slog.Logger) logger.Interface {
	return &gormLogger{logger: slogger, level: logger.Warn, slowThreshold: 200 * time.Millisecond}
}

func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Info {
		g.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Warn {
		g.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Error {
		g.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	attrs := func() []any {
		sql, rows := fc()
		return []any{slog.Duration("elapsed", elapsed), slog.Int64("rows", rows), slog.String("sql", sql)}
	}
	switch {
	case err != nil && g.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.ErrorContext(ctx, "query failed", append(attrs(), slog.String("error", err.Error()))...)
	case elapsed > g.slowThreshold && g.level >= logger.Warn:
		g.logger.WarnContext(ctx, "slow query", attrs()...)
	case g.level >= logger.Info:
		g.logger.DebugContext(ctx, "query", attrs()...)
	}
}
