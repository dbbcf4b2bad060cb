package telemetry

import "time"

// DeviceType identifies which device class a payload belongs to
type DeviceType string

const (
	DeviceMeter   DeviceType = "meter"
	DeviceVehicle DeviceType = "vehicle"
)

// Reading is a validated, normalized telemetry reading.
// It is implemented only by *MeterReading and *VehicleReading.
type Reading interface {
	DeviceType() DeviceType
	DeviceID() string
	EventTime() time.Time
	isReading()
}

// MeterReading is grid-side AC consumption reported by a smart meter
type MeterReading struct {
	MeterID       string
	KwhConsumedAC float64
	Voltage       float64
	Timestamp     time.Time
}

func (r *MeterReading) DeviceType() DeviceType { return DeviceMeter }
func (r *MeterReading) DeviceID() string       { return r.MeterID }
func (r *MeterReading) EventTime() time.Time   { return r.Timestamp }
func (r *MeterReading) isReading()             {}

// VehicleReading is vehicle-side DC delivery and battery state
type VehicleReading struct {
	VehicleID      string
	SOC            float64
	KwhDeliveredDC float64
	BatteryTemp    float64
	Timestamp      time.Time
}

func (r *VehicleReading) DeviceType() DeviceType { return DeviceVehicle }
func (r *VehicleReading) DeviceID() string       { return r.VehicleID }
func (r *VehicleReading) EventTime() time.Time   { return r.Timestamp }
func (r *VehicleReading) isReading()             {}

// Ack acknowledges a committed ingest
type Ack struct {
	Type      DeviceType `json:"type"`
	DeviceID  string     `json:"deviceId"`
	Timestamp time.Time  `json:"timestamp"`
}

// PerformanceSummary is the 24-hour charging performance of a vehicle
type PerformanceSummary struct {
	VehicleID      string  `json:"vehicleId"`
	TotalACKwh     float64 `json:"totalAcKwh"`
	TotalDCKwh     float64 `json:"totalDcKwh"`
	Efficiency     float64 `json:"efficiency"`
	AvgBatteryTemp float64 `json:"avgBatteryTemp"`
}

// MeterState is the hot-storage view of a meter
type MeterState struct {
	MeterID       string    `json:"meterId"`
	KwhConsumedAC float64   `json:"kwhConsumedAc"`
	Voltage       float64   `json:"voltage"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// VehicleState is the hot-storage view of a vehicle
type VehicleState struct {
	VehicleID      string    `json:"vehicleId"`
	SOC            float64   `json:"soc"`
	KwhDeliveredDC float64   `json:"kwhDeliveredDc"`
	BatteryTemp    float64   `json:"batteryTemp"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
