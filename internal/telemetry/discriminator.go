package telemetry

// Payload field names that select the device schema
const (
	MeterIDField   = "meterId"
	VehicleIDField = "vehicleId"
)

// Discriminate classifies a raw payload by the presence of its id field.
// Only the two marker keys are inspected; a key present with a null value still counts.
func Discriminate(payload map[string]any) (DeviceType, error) {
	_, hasMeterID := payload[MeterIDField]
	_, hasVehicleID := payload[VehicleIDField]

	switch {
	case hasMeterID && hasVehicleID:
		return "", ErrAmbiguousPayload
	case hasMeterID:
		return DeviceMeter, nil
	case hasVehicleID:
		return DeviceVehicle, nil
	default:
		return "", ErrMissingDiscriminator
	}
}
