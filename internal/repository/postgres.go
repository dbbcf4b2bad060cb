package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/telemetry-ingestion-service/internal/db"
)

const (
	insertMeterReadingSQL = `
		INSERT INTO meter_readings_history (
			id, meter_id, kwh_consumed_ac, voltage, reading_timestamp, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	upsertMeterLatestSQL = `
		INSERT INTO meter_latest_state (meter_id, kwh_consumed_ac, voltage, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (meter_id) DO UPDATE SET
			kwh_consumed_ac = EXCLUDED.kwh_consumed_ac,
			voltage = EXCLUDED.voltage,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at
	`
	insertVehicleReadingSQL = `
		INSERT INTO vehicle_readings_history (
			id, vehicle_id, soc, kwh_delivered_dc, battery_temp, reading_timestamp, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	upsertVehicleLatestSQL = `
		INSERT INTO vehicle_latest_state (vehicle_id, soc, kwh_delivered_dc, battery_temp, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			soc = EXCLUDED.soc,
			kwh_delivered_dc = EXCLUDED.kwh_delivered_dc,
			battery_temp = EXCLUDED.battery_temp,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at
	`
)

// PostgresRepository handles database operations against PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// BeginTx starts a new transaction
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

// Ping checks the connection pool
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// SumMeterConsumption sums AC consumption over every meter since the given time
func (r *PostgresRepository) SumMeterConsumption(ctx context.Context, since time.Time) (db.MeterWindowAggregate, error) {
	query := `
		SELECT SUM(kwh_consumed_ac)::float8
		FROM meter_readings_history
		WHERE reading_timestamp >= $1
	`

	var agg db.MeterWindowAggregate
	if err := r.pool.QueryRow(ctx, query, since).Scan(&agg.TotalAC); err != nil {
		return db.MeterWindowAggregate{}, fmt.Errorf("failed to sum meter consumption: %w", err)
	}
	return agg, nil
}

// VehicleDeliverySummary sums DC delivery and averages battery temperature for one vehicle
func (r *PostgresRepository) VehicleDeliverySummary(ctx context.Context, vehicleID string, since time.Time) (db.VehicleWindowAggregate, error) {
	query := `
		SELECT SUM(kwh_delivered_dc)::float8, AVG(battery_temp)::float8, COUNT(*)
		FROM vehicle_readings_history
		WHERE vehicle_id = $1 AND reading_timestamp >= $2
	`

	var agg db.VehicleWindowAggregate
	if err := r.pool.QueryRow(ctx, query, vehicleID, since).Scan(&agg.TotalDC, &agg.AvgTemp, &agg.Readings); err != nil {
		return db.VehicleWindowAggregate{}, fmt.Errorf("failed to summarize vehicle delivery: %w", err)
	}
	return agg, nil
}

// GetMeterLatestState returns the hot row for a meter, or nil if it never reported
func (r *PostgresRepository) GetMeterLatestState(ctx context.Context, meterID string) (*db.MeterLatestState, error) {
	query := `
		SELECT meter_id, kwh_consumed_ac::float8, voltage::float8, last_seen_at, updated_at
		FROM meter_latest_state
		WHERE meter_id = $1
	`

	var state db.MeterLatestState
	err := r.pool.QueryRow(ctx, query, meterID).Scan(
		&state.MeterID,
		&state.KwhConsumedAC,
		&state.Voltage,
		&state.LastSeenAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter latest state: %w", err)
	}
	return &state, nil
}

// GetVehicleLatestState returns the hot row for a vehicle, or nil if it never reported
func (r *PostgresRepository) GetVehicleLatestState(ctx context.Context, vehicleID string) (*db.VehicleLatestState, error) {
	query := `
		SELECT vehicle_id, soc::float8, kwh_delivered_dc::float8, battery_temp::float8, last_seen_at, updated_at
		FROM vehicle_latest_state
		WHERE vehicle_id = $1
	`

	var state db.VehicleLatestState
	err := r.pool.QueryRow(ctx, query, vehicleID).Scan(
		&state.VehicleID,
		&state.SOC,
		&state.KwhDeliveredDC,
		&state.BatteryTemp,
		&state.LastSeenAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle latest state: %w", err)
	}
	return &state, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) InsertMeterReading(ctx context.Context, reading *db.MeterReading) error {
	_, err := t.tx.Exec(ctx, insertMeterReadingSQL,
		reading.ID,
		reading.MeterID,
		reading.KwhConsumedAC,
		reading.Voltage,
		reading.ReadingTimestamp,
		reading.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}
	return nil
}

func (t *postgresTx) UpsertMeterLatestState(ctx context.Context, state *db.MeterLatestState) error {
	_, err := t.tx.Exec(ctx, upsertMeterLatestSQL,
		state.MeterID,
		state.KwhConsumedAC,
		state.Voltage,
		state.LastSeenAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert meter latest state: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertVehicleReading(ctx context.Context, reading *db.VehicleReading) error {
	_, err := t.tx.Exec(ctx, insertVehicleReadingSQL,
		reading.ID,
		reading.VehicleID,
		reading.SOC,
		reading.KwhDeliveredDC,
		reading.BatteryTemp,
		reading.ReadingTimestamp,
		reading.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vehicle reading: %w", err)
	}
	return nil
}

func (t *postgresTx) UpsertVehicleLatestState(ctx context.Context, state *db.VehicleLatestState) error {
	_, err := t.tx.Exec(ctx, upsertVehicleLatestSQL,
		state.VehicleID,
		state.SOC,
		state.KwhDeliveredDC,
		state.BatteryTemp,
		state.LastSeenAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle latest state: %w", err)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
