package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteTimeLayout is the fixed-width UTC layout used for sqlite timestamp columns
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatSQLiteTime renders t in SQLiteTimeLayout
func FormatSQLiteTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeLayout)
}

// ParseSQLiteTime parses a value written by FormatSQLiteTime
func ParseSQLiteTime(value string) (time.Time, error) {
	return time.Parse(SQLiteTimeLayout, value)
}

// OpenSQLite opens the sqlite database at path, creating parent directories as
// needed. The handle is limited to one connection so writers serialize.
func OpenSQLite(ctx context.Context, path string, autoSchema bool) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to create sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to open sqlite: %w", err)
	}

	handle.SetMaxOpenConns(1)
	handle.SetConnMaxLifetime(0)
	handle.SetConnMaxIdleTime(5 * time.Minute)

	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("[DATABASE] failed to reach sqlite: %w", err)
	}

	if autoSchema {
		if err := ApplySQLiteSchema(ctx, handle); err != nil {
			_ = handle.Close()
			return nil, err
		}
	}

	return handle, nil
}

// NewSQLite opens the sqlite store and ties its lifetime to the fx application
func NewSQLite(lc fx.Lifecycle, logger *zap.Logger, path string, autoSchema bool) (*sql.DB, error) {
	logger.Info("opening sqlite store", zap.String("path", path))

	handle, err := OpenSQLite(context.Background(), path, autoSchema)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := handle.Close(); err != nil {
				logger.Error("failed to close sqlite store", zap.Error(err))
				return err
			}
			logger.Info("sqlite store closed")
			return nil
		},
	})

	return handle, nil
}
