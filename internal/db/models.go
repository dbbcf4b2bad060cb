package db

import (
	"time"

	"github.com/google/uuid"
)

// MeterReading is a row of meter_readings_history (cold storage, append-only)
type MeterReading struct {
	ID               uuid.UUID
	MeterID          string
	KwhConsumedAC    float64
	Voltage          float64
	ReadingTimestamp time.Time
	CreatedAt        time.Time
}

// VehicleReading is a row of vehicle_readings_history (cold storage, append-only)
type VehicleReading struct {
	ID               uuid.UUID
	VehicleID        string
	SOC              float64
	KwhDeliveredDC   float64
	BatteryTemp      float64
	ReadingTimestamp time.Time
	CreatedAt        time.Time
}

// MeterLatestState is a row of meter_latest_state (hot storage, one per meter)
type MeterLatestState struct {
	MeterID       string
	KwhConsumedAC float64
	Voltage       float64
	LastSeenAt    time.Time
	UpdatedAt     time.Time
}

// VehicleLatestState is a row of vehicle_latest_state (hot storage, one per vehicle)
type VehicleLatestState struct {
	VehicleID      string
	SOC            float64
	KwhDeliveredDC float64
	BatteryTemp    float64
	LastSeenAt     time.Time
	UpdatedAt      time.Time
}

// MeterWindowAggregate is the fleet-wide AC total over a time window.
// A nil total means the window held no rows.
type MeterWindowAggregate struct {
	TotalAC *float64
}

// VehicleWindowAggregate is a single vehicle's DC total and mean battery
// temperature over a time window. Nil values mean the window held no rows.
type VehicleWindowAggregate struct {
	TotalDC  *float64
	AvgTemp  *float64
	Readings int64
}
