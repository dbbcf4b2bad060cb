package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// eventTimestampFormats are the ISO-8601 shapes accepted for device event times.
// Layouts without a zone designator are interpreted as UTC.
var eventTimestampFormats = []string{
	time.RFC3339Nano,                // 2023-01-01T00:00:00.123Z, 2023-01-01T02:00:00+02:00
	"2006-01-02T15:04:05.999999999", // no zone designator
	"2006-01-02T15:04Z07:00",        // minute precision
	"2006-01-02T15:04",              // minute precision, no zone designator
	"2006-01-02",                    // calendar date only
}

// ParseEventTimestamp parses an ISO-8601 date-time and normalizes it to UTC
func ParseEventTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	var lastErr error
	for _, format := range eventTimestampFormats {
		t, err := time.Parse(format, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", value, lastErr)
}

// IsAheadBy reports whether the reading timestamp is later than the received time by more than limit
func IsAheadBy(readingTime, receivedTime time.Time, limit time.Duration) bool {
	return readingTime.Sub(receivedTime) > limit
}
