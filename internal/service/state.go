package service

import (
	"context"
	"fmt"

	"github.com/septivank/telemetry-ingestion-service/internal/repository"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
)

// StateService serves point lookups against hot storage
type StateService struct {
	store repository.LatestReader
}

func NewStateService(store repository.LatestReader) *StateService {
	return &StateService{store: store}
}

// GetMeterState returns telemetry.ErrDeviceNotFound for a meter that never reported
func (s *StateService) GetMeterState(ctx context.Context, meterID string) (*telemetry.MeterState, error) {
	row, err := s.store.GetMeterLatestState(ctx, meterID)
	if err != nil {
		return nil, &telemetry.QueryError{Op: "get meter latest state", Err: err}
	}
	if row == nil {
		return nil, fmt.Errorf("meter %q: %w", meterID, telemetry.ErrDeviceNotFound)
	}

	return &telemetry.MeterState{
		MeterID:       row.MeterID,
		KwhConsumedAC: row.KwhConsumedAC,
		Voltage:       row.Voltage,
		LastSeenAt:    row.LastSeenAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}, nil
}

// GetVehicleState returns telemetry.ErrDeviceNotFound for a vehicle that never reported
func (s *StateService) GetVehicleState(ctx context.Context, vehicleID string) (*telemetry.VehicleState, error) {
	row, err := s.store.GetVehicleLatestState(ctx, vehicleID)
	if err != nil {
		return nil, &telemetry.QueryError{Op: "get vehicle latest state", Err: err}
	}
	if row == nil {
		return nil, fmt.Errorf("vehicle %q: %w", vehicleID, telemetry.ErrDeviceNotFound)
	}

	return &telemetry.VehicleState{
		VehicleID:      row.VehicleID,
		SOC:            row.SOC,
		KwhDeliveredDC: row.KwhDeliveredDC,
		BatteryTemp:    row.BatteryTemp,
		LastSeenAt:     row.LastSeenAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}
