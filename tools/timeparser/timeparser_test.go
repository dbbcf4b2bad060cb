package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/telemetry-ingestion-service/tools/timeparser"
)

func TestParseEventTimestamp_RFC3339(t *testing.T) {
	result, err := timeparser.ParseEventTimestamp("2023-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseEventTimestamp_FractionalSeconds(t *testing.T) {
	result, err := timeparser.ParseEventTimestamp("2025-12-29T10:30:45.123Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 123000000, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseEventTimestamp_OffsetNormalizedToUTC(t *testing.T) {
	result, err := timeparser.ParseEventTimestamp("2025-12-29T12:30:45+02:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	if result.Location() != time.UTC {
		t.Errorf("Expected UTC location, got %v", result.Location())
	}
	if result.Hour() != 10 {
		t.Errorf("Expected hour 10, got %d", result.Hour())
	}
}

func TestParseEventTimestamp_NoZoneIsUTC(t *testing.T) {
	result, err := timeparser.ParseEventTimestamp("2025-12-29T10:30:45")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseEventTimestamp_DateOnly(t *testing.T) {
	result, err := timeparser.ParseEventTimestamp("2025-12-29")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseEventTimestamp_Invalid(t *testing.T) {
	for _, value := range []string{"", "   ", "invalid-date-string", "29/12/2025 10:30:45", "2025-13-40T00:00:00Z"} {
		if _, err := timeparser.ParseEventTimestamp(value); err == nil {
			t.Errorf("Expected error for %q", value)
		}
	}
}

func TestIsAheadBy(t *testing.T) {
	received := time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)

	if timeparser.IsAheadBy(received.Add(5*time.Minute), received, 5*time.Minute) {
		t.Error("Expected timestamp at exact boundary to be accepted")
	}
	if !timeparser.IsAheadBy(received.Add(6*time.Minute), received, 5*time.Minute) {
		t.Error("Expected timestamp 6 minutes ahead to exceed the limit")
	}
	if timeparser.IsAheadBy(received.Add(-time.Hour), received, 5*time.Minute) {
		t.Error("Expected past timestamp to never be ahead")
	}
}
