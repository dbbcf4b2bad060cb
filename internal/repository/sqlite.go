package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/db"
)

// SQLiteRepository handles database operations against an embedded sqlite file.
// Timestamps are bound as fixed-width UTC text.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new repository
func NewSQLiteRepository(handle *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: handle}
}

// BeginTx starts a new transaction
func (r *SQLiteRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// Ping checks the database handle
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SumMeterConsumption sums AC consumption over every meter since the given time
func (r *SQLiteRepository) SumMeterConsumption(ctx context.Context, since time.Time) (db.MeterWindowAggregate, error) {
	query := `
		SELECT SUM(kwh_consumed_ac)
		FROM meter_readings_history
		WHERE reading_timestamp >= ?
	`

	var total sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, query, db.FormatSQLiteTime(since)).Scan(&total); err != nil {
		return db.MeterWindowAggregate{}, fmt.Errorf("failed to sum meter consumption: %w", err)
	}
	return db.MeterWindowAggregate{TotalAC: nullable(total)}, nil
}

// VehicleDeliverySummary sums DC delivery and averages battery temperature for one vehicle
func (r *SQLiteRepository) VehicleDeliverySummary(ctx context.Context, vehicleID string, since time.Time) (db.VehicleWindowAggregate, error) {
	query := `
		SELECT SUM(kwh_delivered_dc), AVG(battery_temp), COUNT(*)
		FROM vehicle_readings_history
		WHERE vehicle_id = ? AND reading_timestamp >= ?
	`

	var (
		totalDC, avgTemp sql.NullFloat64
		readings         int64
	)
	err := r.db.QueryRowContext(ctx, query, vehicleID, db.FormatSQLiteTime(since)).Scan(&totalDC, &avgTemp, &readings)
	if err != nil {
		return db.VehicleWindowAggregate{}, fmt.Errorf("failed to summarize vehicle delivery: %w", err)
	}
	return db.VehicleWindowAggregate{
		TotalDC:  nullable(totalDC),
		AvgTemp:  nullable(avgTemp),
		Readings: readings,
	}, nil
}

// GetMeterLatestState returns the hot row for a meter, or nil if it never reported
func (r *SQLiteRepository) GetMeterLatestState(ctx context.Context, meterID string) (*db.MeterLatestState, error) {
	query := `
		SELECT meter_id, kwh_consumed_ac, voltage, last_seen_at, updated_at
		FROM meter_latest_state
		WHERE meter_id = ?
	`

	var (
		state               db.MeterLatestState
		lastSeen, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, query, meterID).Scan(
		&state.MeterID,
		&state.KwhConsumedAC,
		&state.Voltage,
		&lastSeen,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter latest state: %w", err)
	}

	if state.LastSeenAt, state.UpdatedAt, err = parseStateTimes(lastSeen, updatedAt); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetVehicleLatestState returns the hot row for a vehicle, or nil if it never reported
func (r *SQLiteRepository) GetVehicleLatestState(ctx context.Context, vehicleID string) (*db.VehicleLatestState, error) {
	query := `
		SELECT vehicle_id, soc, kwh_delivered_dc, battery_temp, last_seen_at, updated_at
		FROM vehicle_latest_state
		WHERE vehicle_id = ?
	`

	var (
		state               db.VehicleLatestState
		lastSeen, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, query, vehicleID).Scan(
		&state.VehicleID,
		&state.SOC,
		&state.KwhDeliveredDC,
		&state.BatteryTemp,
		&lastSeen,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle latest state: %w", err)
	}

	if state.LastSeenAt, state.UpdatedAt, err = parseStateTimes(lastSeen, updatedAt); err != nil {
		return nil, err
	}
	return &state, nil
}

func parseStateTimes(lastSeen, updatedAt string) (time.Time, time.Time, error) {
	seen, err := db.ParseSQLiteTime(lastSeen)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse last_seen_at: %w", err)
	}
	updated, err := db.ParseSQLiteTime(updatedAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return seen, updated, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertMeterReading(ctx context.Context, reading *db.MeterReading) error {
	query := `
		INSERT INTO meter_readings_history (
			id, meter_id, kwh_consumed_ac, voltage, reading_timestamp, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		reading.ID.String(),
		reading.MeterID,
		reading.KwhConsumedAC,
		reading.Voltage,
		db.FormatSQLiteTime(reading.ReadingTimestamp),
		db.FormatSQLiteTime(reading.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpsertMeterLatestState(ctx context.Context, state *db.MeterLatestState) error {
	query := `
		INSERT INTO meter_latest_state (meter_id, kwh_consumed_ac, voltage, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (meter_id) DO UPDATE SET
			kwh_consumed_ac = excluded.kwh_consumed_ac,
			voltage = excluded.voltage,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`

	_, err := t.tx.ExecContext(ctx, query,
		state.MeterID,
		state.KwhConsumedAC,
		state.Voltage,
		db.FormatSQLiteTime(state.LastSeenAt),
		db.FormatSQLiteTime(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert meter latest state: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertVehicleReading(ctx context.Context, reading *db.VehicleReading) error {
	query := `
		INSERT INTO vehicle_readings_history (
			id, vehicle_id, soc, kwh_delivered_dc, battery_temp, reading_timestamp, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		reading.ID.String(),
		reading.VehicleID,
		reading.SOC,
		reading.KwhDeliveredDC,
		reading.BatteryTemp,
		db.FormatSQLiteTime(reading.ReadingTimestamp),
		db.FormatSQLiteTime(reading.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert vehicle reading: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpsertVehicleLatestState(ctx context.Context, state *db.VehicleLatestState) error {
	query := `
		INSERT INTO vehicle_latest_state (vehicle_id, soc, kwh_delivered_dc, battery_temp, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			soc = excluded.soc,
			kwh_delivered_dc = excluded.kwh_delivered_dc,
			battery_temp = excluded.battery_temp,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`

	_, err := t.tx.ExecContext(ctx, query,
		state.VehicleID,
		state.SOC,
		state.KwhDeliveredDC,
		state.BatteryTemp,
		db.FormatSQLiteTime(state.LastSeenAt),
		db.FormatSQLiteTime(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle latest state: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
