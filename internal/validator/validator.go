package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"github.com/septivank/telemetry-ingestion-service/tools/timeparser"
)

// Validator turns discriminated payloads into typed readings
type Validator struct {
	maxFutureSkew time.Duration
}

// NewValidator creates a new validator. A non-positive maxFutureSkewMinutes disables the
// event-time skew check.
func NewValidator(maxFutureSkewMinutes int) *Validator {
	return &Validator{
		maxFutureSkew: time.Duration(maxFutureSkewMinutes) * time.Minute,
	}
}

// Validate checks payload against the schema of kind and returns the normalized reading.
// Every violated constraint is reported in a single *telemetry.ValidationError.
func (v *Validator) Validate(kind telemetry.DeviceType, payload map[string]any, receivedAt time.Time) (telemetry.Reading, error) {
	c := &checker{payload: payload}

	var reading telemetry.Reading
	switch kind {
	case telemetry.DeviceMeter:
		reading = &telemetry.MeterReading{
			MeterID:       c.id(telemetry.MeterIDField),
			KwhConsumedAC: c.number("kwhConsumedAc", bound(0), nil),
			Voltage:       c.number("voltage", bound(0), bound(500)),
			Timestamp:     v.timestamp(c, receivedAt),
		}
	case telemetry.DeviceVehicle:
		reading = &telemetry.VehicleReading{
			VehicleID:      c.id(telemetry.VehicleIDField),
			SOC:            c.number("soc", bound(0), bound(100)),
			KwhDeliveredDC: c.number("kwhDeliveredDc", bound(0), nil),
			BatteryTemp:    c.number("batteryTemp", bound(-50), bound(100)),
			Timestamp:      v.timestamp(c, receivedAt),
		}
	default:
		return nil, fmt.Errorf("unsupported device type %q", kind)
	}

	if len(c.violations) > 0 {
		return nil, &telemetry.ValidationError{Type: kind, Violations: c.violations}
	}
	return reading, nil
}

func (v *Validator) timestamp(c *checker, receivedAt time.Time) time.Time {
	ts, ok := c.timestamp("timestamp")
	if !ok {
		return time.Time{}
	}

	if v.maxFutureSkew > 0 && timeparser.IsAheadBy(ts, receivedAt, v.maxFutureSkew) {
		c.fail("timestamp must not be more than %s ahead of ingestion time", v.maxFutureSkew)
	}
	return ts
}

func bound(f float64) *float64 {
	return &f
}

type checker struct {
	payload    map[string]any
	violations []string
}

func (c *checker) fail(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

func (c *checker) id(field string) string {
	raw, ok := c.payload[field]
	if !ok || raw == nil {
		c.fail("%s is required", field)
		return ""
	}

	s, ok := raw.(string)
	if !ok {
		c.fail("%s must be a string", field)
		return ""
	}
	if s == "" {
		c.fail("%s should not be empty", field)
		return ""
	}
	return s
}

func (c *checker) number(field string, min, max *float64) float64 {
	raw, ok := c.payload[field]
	if !ok || raw == nil {
		c.fail("%s is required", field)
		return 0
	}

	value, ok := toFloat(raw)
	if !ok {
		c.fail("%s must be a number", field)
		return 0
	}

	if min != nil && value < *min {
		c.fail("%s must not be less than %g", field, *min)
	}
	if max != nil && value > *max {
		c.fail("%s must not be greater than %g", field, *max)
	}
	return value
}

func (c *checker) timestamp(field string) (time.Time, bool) {
	raw, ok := c.payload[field]
	if !ok || raw == nil {
		c.fail("%s is required", field)
		return time.Time{}, false
	}

	s, ok := raw.(string)
	if !ok {
		c.fail("%s must be an ISO-8601 date-time string", field)
		return time.Time{}, false
	}

	ts, err := timeparser.ParseEventTimestamp(s)
	if err != nil {
		c.fail("%s must be a valid ISO-8601 date-time", field)
		return time.Time{}, false
	}
	return ts, true
}

// toFloat accepts JSON-decoded numbers (float64 or json.Number) and native Go numerics.
// Text, booleans, NaN and infinities are not numbers.
func toFloat(raw any) (float64, bool) {
	var f float64
	switch n := raw.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
