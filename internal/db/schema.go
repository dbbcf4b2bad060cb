package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS meter_readings_history (
		id UUID PRIMARY KEY,
		meter_id TEXT NOT NULL,
		kwh_consumed_ac NUMERIC(12,4) NOT NULL,
		voltage NUMERIC(8,2) NOT NULL,
		reading_timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_history_meter_timestamp
		ON meter_readings_history (meter_id, reading_timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_history_timestamp
		ON meter_readings_history (reading_timestamp)`,
	`CREATE TABLE IF NOT EXISTS vehicle_readings_history (
		id UUID PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		soc NUMERIC(5,2) NOT NULL,
		kwh_delivered_dc NUMERIC(12,4) NOT NULL,
		battery_temp NUMERIC(5,2) NOT NULL,
		reading_timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_history_vehicle_timestamp
		ON vehicle_readings_history (vehicle_id, reading_timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS meter_latest_state (
		meter_id TEXT PRIMARY KEY,
		kwh_consumed_ac NUMERIC(12,4) NOT NULL,
		voltage NUMERIC(8,2) NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_latest_state (
		vehicle_id TEXT PRIMARY KEY,
		soc NUMERIC(5,2) NOT NULL,
		kwh_delivered_dc NUMERIC(12,4) NOT NULL,
		battery_temp NUMERIC(5,2) NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Timestamps are stored as fixed-width UTC text (see SQLiteTimeLayout) so that
// lexical comparison matches chronological order.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meter_readings_history (
		id TEXT PRIMARY KEY,
		meter_id TEXT NOT NULL,
		kwh_consumed_ac REAL NOT NULL,
		voltage REAL NOT NULL,
		reading_timestamp TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_history_meter_timestamp
		ON meter_readings_history (meter_id, reading_timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_history_timestamp
		ON meter_readings_history (reading_timestamp)`,
	`CREATE TABLE IF NOT EXISTS vehicle_readings_history (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		soc REAL NOT NULL,
		kwh_delivered_dc REAL NOT NULL,
		battery_temp REAL NOT NULL,
		reading_timestamp TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_history_vehicle_timestamp
		ON vehicle_readings_history (vehicle_id, reading_timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS meter_latest_state (
		meter_id TEXT PRIMARY KEY,
		kwh_consumed_ac REAL NOT NULL,
		voltage REAL NOT NULL,
		last_seen_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_latest_state (
		vehicle_id TEXT PRIMARY KEY,
		soc REAL NOT NULL,
		kwh_delivered_dc REAL NOT NULL,
		battery_temp REAL NOT NULL,
		last_seen_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

// ApplyPostgresSchema creates the telemetry tables and indexes if they are missing
func ApplyPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
		}
	}
	return nil
}

// ApplySQLiteSchema creates the telemetry tables and indexes if they are missing
func ApplySQLiteSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
		}
	}
	return nil
}
