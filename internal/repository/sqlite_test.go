package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/telemetry-ingestion-service/internal/db"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	handle, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"), true)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	return NewSQLiteRepository(handle)
}

func writeMeter(t *testing.T, repo *SQLiteRepository, meterID string, kwh, voltage float64, at time.Time) {
	t.Helper()
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.InsertMeterReading(ctx, &db.MeterReading{
		ID:               uuid.New(),
		MeterID:          meterID,
		KwhConsumedAC:    kwh,
		Voltage:          voltage,
		ReadingTimestamp: at,
		CreatedAt:        at,
	}); err != nil {
		t.Fatalf("InsertMeterReading: %v", err)
	}
	if err := tx.UpsertMeterLatestState(ctx, &db.MeterLatestState{
		MeterID:       meterID,
		KwhConsumedAC: kwh,
		Voltage:       voltage,
		LastSeenAt:    at,
		UpdatedAt:     at,
	}); err != nil {
		t.Fatalf("UpsertMeterLatestState: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func writeVehicle(t *testing.T, repo *SQLiteRepository, vehicleID string, soc, kwh, temp float64, at time.Time) {
	t.Helper()
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.InsertVehicleReading(ctx, &db.VehicleReading{
		ID:               uuid.New(),
		VehicleID:        vehicleID,
		SOC:              soc,
		KwhDeliveredDC:   kwh,
		BatteryTemp:      temp,
		ReadingTimestamp: at,
		CreatedAt:        at,
	}); err != nil {
		t.Fatalf("InsertVehicleReading: %v", err)
	}
	if err := tx.UpsertVehicleLatestState(ctx, &db.VehicleLatestState{
		VehicleID:      vehicleID,
		SOC:            soc,
		KwhDeliveredDC: kwh,
		BatteryTemp:    temp,
		LastSeenAt:     at,
		UpdatedAt:      at,
	}); err != nil {
		t.Fatalf("UpsertVehicleLatestState: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSQLiteRepository_MeterUpsertKeepsOneRowPerDevice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	first := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	writeMeter(t, repo, "MTR-1", 10, 230, first)
	writeMeter(t, repo, "MTR-1", 12.5, 231, first.Add(time.Minute))

	state, err := repo.GetMeterLatestState(ctx, "MTR-1")
	if err != nil {
		t.Fatalf("GetMeterLatestState: %v", err)
	}
	if state == nil {
		t.Fatal("Expected latest state row")
	}
	if state.KwhConsumedAC != 12.5 || state.Voltage != 231 {
		t.Errorf("Expected last write to win, got %+v", state)
	}
	if !state.LastSeenAt.Equal(first.Add(time.Minute)) {
		t.Errorf("Expected last_seen_at %v, got %v", first.Add(time.Minute), state.LastSeenAt)
	}

	var latestRows, historyRows int
	repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meter_latest_state`).Scan(&latestRows)
	repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meter_readings_history WHERE meter_id = 'MTR-1'`).Scan(&historyRows)
	if latestRows != 1 {
		t.Errorf("Expected 1 latest row, got %d", latestRows)
	}
	if historyRows != 2 {
		t.Errorf("Expected 2 history rows, got %d", historyRows)
	}
}

func TestSQLiteRepository_VehicleUpsertOverwritesState(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	writeVehicle(t, repo, "VH-1", 50, 5, 30, at)
	writeVehicle(t, repo, "VH-1", 80, 7.25, 33.5, at.Add(-time.Hour))

	state, err := repo.GetVehicleLatestState(ctx, "VH-1")
	if err != nil {
		t.Fatalf("GetVehicleLatestState: %v", err)
	}
	if state == nil {
		t.Fatal("Expected latest state row")
	}
	// Ingestion order wins even when the event timestamp is older.
	if state.SOC != 80 || state.KwhDeliveredDC != 7.25 || state.BatteryTemp != 33.5 {
		t.Errorf("Unexpected state %+v", state)
	}
	if !state.LastSeenAt.Equal(at.Add(-time.Hour)) {
		t.Errorf("Expected last_seen_at %v, got %v", at.Add(-time.Hour), state.LastSeenAt)
	}
}

func TestSQLiteRepository_MissingLatestState(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	meter, err := repo.GetMeterLatestState(ctx, "nope")
	if err != nil || meter != nil {
		t.Errorf("Expected (nil, nil), got (%v, %v)", meter, err)
	}
	vehicle, err := repo.GetVehicleLatestState(ctx, "nope")
	if err != nil || vehicle != nil {
		t.Errorf("Expected (nil, nil), got (%v, %v)", vehicle, err)
	}
}

func TestSQLiteRepository_AggregatesEmptyWindow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	since := time.Now().Add(-24 * time.Hour)

	meters, err := repo.SumMeterConsumption(ctx, since)
	if err != nil {
		t.Fatalf("SumMeterConsumption: %v", err)
	}
	if meters.TotalAC != nil {
		t.Errorf("Expected NULL sum, got %v", *meters.TotalAC)
	}

	vehicle, err := repo.VehicleDeliverySummary(ctx, "VH-404", since)
	if err != nil {
		t.Fatalf("VehicleDeliverySummary: %v", err)
	}
	if vehicle.TotalDC != nil || vehicle.AvgTemp != nil || vehicle.Readings != 0 {
		t.Errorf("Expected empty aggregate, got %+v", vehicle)
	}
}

func TestSQLiteRepository_AggregatesRespectWindow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	writeMeter(t, repo, "MTR-1", 50, 230, since)                        // boundary is inclusive
	writeMeter(t, repo, "MTR-2", 50, 230, now.Add(-time.Hour))          // other meter still counts
	writeMeter(t, repo, "MTR-1", 999, 230, since.Add(-time.Nanosecond)) // just outside

	writeVehicle(t, repo, "VH-1", 40, 40, 30, now.Add(-2*time.Hour))
	writeVehicle(t, repo, "VH-1", 60, 45, 35, now.Add(-time.Hour))
	writeVehicle(t, repo, "VH-1", 90, 500, 99, since.Add(-time.Minute))
	writeVehicle(t, repo, "VH-2", 70, 100, 10, now.Add(-time.Hour))

	meters, err := repo.SumMeterConsumption(ctx, since)
	if err != nil {
		t.Fatalf("SumMeterConsumption: %v", err)
	}
	if meters.TotalAC == nil || *meters.TotalAC != 100 {
		t.Errorf("Expected AC total 100, got %v", meters.TotalAC)
	}

	vehicle, err := repo.VehicleDeliverySummary(ctx, "VH-1", since)
	if err != nil {
		t.Fatalf("VehicleDeliverySummary: %v", err)
	}
	if vehicle.TotalDC == nil || *vehicle.TotalDC != 85 {
		t.Errorf("Expected DC total 85, got %v", vehicle.TotalDC)
	}
	if vehicle.AvgTemp == nil || *vehicle.AvgTemp != 32.5 {
		t.Errorf("Expected avg temp 32.5, got %v", vehicle.AvgTemp)
	}
	if vehicle.Readings != 2 {
		t.Errorf("Expected 2 readings, got %d", vehicle.Readings)
	}
}

func TestSQLiteRepository_RollbackDiscardsWrites(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := time.Now().UTC()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := tx.InsertMeterReading(ctx, &db.MeterReading{
		ID: uuid.New(), MeterID: "MTR-9", KwhConsumedAC: 1, Voltage: 230, ReadingTimestamp: at, CreatedAt: at,
	}); err != nil {
		t.Fatalf("InsertMeterReading: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Second rollback should be a no-op, got %v", err)
	}

	var rows int
	repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meter_readings_history`).Scan(&rows)
	if rows != 0 {
		t.Errorf("Expected rollback to discard history row, got %d", rows)
	}
}

func TestSQLiteRepository_DuplicateHistoryIDFails(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := time.Now().UTC()
	id := uuid.New()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback(ctx)

	reading := &db.MeterReading{ID: id, MeterID: "MTR-1", KwhConsumedAC: 1, Voltage: 230, ReadingTimestamp: at, CreatedAt: at}
	if err := tx.InsertMeterReading(ctx, reading); err != nil {
		t.Fatalf("InsertMeterReading: %v", err)
	}
	err = tx.InsertMeterReading(ctx, reading)
	if err == nil {
		t.Fatal("Expected primary key violation")
	}
	if errors.Unwrap(err) == nil {
		t.Errorf("Expected wrapped driver error, got %v", err)
	}
}
