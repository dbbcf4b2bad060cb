package repository

import (
	"context"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/db"
)

// Tx is one unit of work spanning cold (history) and hot (latest state) storage.
// Upserts are single conditional-write statements keyed on the device id.
type Tx interface {
	InsertMeterReading(ctx context.Context, reading *db.MeterReading) error
	UpsertMeterLatestState(ctx context.Context, state *db.MeterLatestState) error
	InsertVehicleReading(ctx context.Context, reading *db.VehicleReading) error
	UpsertVehicleLatestState(ctx context.Context, state *db.VehicleLatestState) error
	Commit(ctx context.Context) error
	// Rollback is a no-op after a successful Commit.
	Rollback(ctx context.Context) error
}

// TxBeginner starts dual-write transactions
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// AggregateReader runs the bounded history aggregates used by analytics
type AggregateReader interface {
	SumMeterConsumption(ctx context.Context, since time.Time) (db.MeterWindowAggregate, error)
	VehicleDeliverySummary(ctx context.Context, vehicleID string, since time.Time) (db.VehicleWindowAggregate, error)
}

// LatestReader looks up hot-storage rows. Missing rows yield (nil, nil).
type LatestReader interface {
	GetMeterLatestState(ctx context.Context, meterID string) (*db.MeterLatestState, error)
	GetVehicleLatestState(ctx context.Context, vehicleID string) (*db.VehicleLatestState, error)
}

// Pinger checks store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the full transactional store boundary
type Store interface {
	TxBeginner
	AggregateReader
	LatestReader
	Pinger
}
