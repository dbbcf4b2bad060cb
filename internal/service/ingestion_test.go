package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/events"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"github.com/septivank/telemetry-ingestion-service/internal/validator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var ingestNow = time.Date(2023, 1, 1, 0, 5, 0, 0, time.UTC)

func newTestIngestion(store *fakeStore, publisher *fakePublisher, m *metrics.Metrics) *IngestionService {
	var sink events.Publisher
	if publisher != nil {
		sink = publisher
	}
	svc := NewIngestionService(store, validator.NewValidator(0), sink, m, zap.NewNop())
	svc.now = fixedClock(ingestNow)
	return svc
}

func TestIngest_Meter(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	svc := newTestIngestion(store, publisher, nil)

	ack, err := svc.Ingest(context.Background(), map[string]any{
		"meterId":       "M123",
		"kwhConsumedAc": 100.0,
		"voltage":       220.0,
		"timestamp":     "2023-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	eventTime := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if ack.Type != telemetry.DeviceMeter || ack.DeviceID != "M123" || !ack.Timestamp.Equal(eventTime) {
		t.Errorf("Unexpected ack %+v", ack)
	}

	wantCalls := []string{"begin", "insert_meter", "upsert_meter", "commit"}
	if !reflect.DeepEqual(store.calls, wantCalls) {
		t.Errorf("Expected calls %v, got %v", wantCalls, store.calls)
	}

	if len(store.meterHistory) != 1 {
		t.Fatalf("Expected 1 history row, got %d", len(store.meterHistory))
	}
	history := store.meterHistory[0]
	if history.KwhConsumedAC != 100 || history.Voltage != 220 {
		t.Errorf("Unexpected history row %+v", history)
	}
	if !history.ReadingTimestamp.Equal(eventTime) || !history.CreatedAt.Equal(ingestNow) {
		t.Errorf("Expected event time %v and ingestion time %v, got %v and %v",
			eventTime, ingestNow, history.ReadingTimestamp, history.CreatedAt)
	}

	state := store.meterState["M123"]
	if state == nil || state.KwhConsumedAC != 100 {
		t.Fatalf("Expected latest state with 100 kWh, got %+v", state)
	}
	if !state.LastSeenAt.Equal(eventTime) || !state.UpdatedAt.Equal(ingestNow) {
		t.Errorf("Unexpected latest state clocks %+v", state)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(publisher.events))
	}
	if ev := publisher.events[0]; ev.Type != "meter" || ev.DeviceID != "M123" || !ev.IngestedAt.Equal(ingestNow) {
		t.Errorf("Unexpected event %+v", ev)
	}
}

func TestIngest_Vehicle(t *testing.T) {
	store := newFakeStore()
	svc := newTestIngestion(store, nil, nil)

	ack, err := svc.Ingest(context.Background(), map[string]any{
		"vehicleId":      "V1",
		"soc":            55.5,
		"kwhDeliveredDc": 12.25,
		"batteryTemp":    31.0,
		"timestamp":      "2023-01-01T00:01:00Z",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ack.Type != telemetry.DeviceVehicle || ack.DeviceID != "V1" {
		t.Errorf("Unexpected ack %+v", ack)
	}

	wantCalls := []string{"begin", "insert_vehicle", "upsert_vehicle", "commit"}
	if !reflect.DeepEqual(store.calls, wantCalls) {
		t.Errorf("Expected calls %v, got %v", wantCalls, store.calls)
	}

	state := store.vehicleState["V1"]
	if state == nil || state.SOC != 55.5 || state.KwhDeliveredDC != 12.25 || state.BatteryTemp != 31 {
		t.Errorf("Unexpected latest state %+v", state)
	}
	if len(store.vehicleHistory) != 1 || store.vehicleHistory[0].ID.String() == "" {
		t.Errorf("Expected one history row with an id, got %+v", store.vehicleHistory)
	}
}

func TestIngest_RejectsBeforeStoreAccess(t *testing.T) {
	valid := "2023-01-01T00:00:00Z"
	tests := []struct {
		name    string
		payload map[string]any
		want    error
	}{
		{
			name:    "ambiguous",
			payload: map[string]any{"meterId": "M1", "vehicleId": "V1"},
			want:    telemetry.ErrAmbiguousPayload,
		},
		{
			name:    "missing discriminator",
			payload: map[string]any{"otherId": "O1"},
			want:    telemetry.ErrMissingDiscriminator,
		},
		{
			name:    "non numeric energy",
			payload: map[string]any{"meterId": "M1", "kwhConsumedAc": "NOT_A_NUMBER", "voltage": 230.0, "timestamp": valid},
			want:    telemetry.ErrValidationFailed,
		},
		{
			name:    "soc out of range",
			payload: map[string]any{"vehicleId": "V1", "soc": 101.0, "kwhDeliveredDc": 1.0, "batteryTemp": 20.0, "timestamp": valid},
			want:    telemetry.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			publisher := &fakePublisher{}
			svc := newTestIngestion(store, publisher, nil)

			ack, err := svc.Ingest(context.Background(), tt.payload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if ack != nil {
				t.Errorf("Expected no ack, got %+v", ack)
			}
			if store.callCount() != 0 {
				t.Errorf("Expected no store access, got %v", store.calls)
			}
			if len(publisher.events) != 0 {
				t.Errorf("Expected no events, got %d", len(publisher.events))
			}
		})
	}
}

func TestIngest_ValidationCarriesEveryViolation(t *testing.T) {
	svc := newTestIngestion(newFakeStore(), nil, nil)

	_, err := svc.Ingest(context.Background(), map[string]any{
		"meterId":       "",
		"kwhConsumedAc": -1.0,
		"voltage":       900.0,
	})

	var verr *telemetry.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	if len(verr.Violations) != 4 {
		t.Errorf("Expected 4 violations, got %v", verr.Violations)
	}
}

func TestIngest_PersistenceFailureRollsBack(t *testing.T) {
	steps := []string{"begin", "insert_meter", "upsert_meter", "commit"}

	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			store := newFakeStore()
			store.failOn[step] = errors.New("connection reset")
			publisher := &fakePublisher{}
			m := metrics.NewMetrics()
			svc := newTestIngestion(store, publisher, m)

			_, err := svc.Ingest(context.Background(), map[string]any{
				"meterId":       "M1",
				"kwhConsumedAc": 1.0,
				"voltage":       230.0,
				"timestamp":     "2023-01-01T00:00:00Z",
			})

			if !errors.Is(err, telemetry.ErrPersistenceFailed) {
				t.Fatalf("Expected persistence failure, got %v", err)
			}
			var perr *telemetry.PersistenceError
			if !errors.As(err, &perr) || perr.Err.Error() != "connection reset" {
				t.Errorf("Expected wrapped store error, got %v", err)
			}
			if len(store.meterHistory) != 0 || len(store.meterState) != 0 {
				t.Errorf("Expected nothing committed, got %d history and %d state rows",
					len(store.meterHistory), len(store.meterState))
			}
			if step != "begin" && store.calls[len(store.calls)-1] != "rollback" {
				t.Errorf("Expected rollback as the last call, got %v", store.calls)
			}
			if len(publisher.events) != 0 {
				t.Error("Expected no event for a failed ingest")
			}
			if !strings.Contains(scrape(t, m), `telemetry_ingest_total{outcome="PersistenceFailed",type="meter"} 1`) {
				t.Error("Expected persistence failure to be counted")
			}
		})
	}
}

func TestIngest_RollbackFailureIsLogged(t *testing.T) {
	store := newFakeStore()
	store.failOn["insert_meter"] = errors.New("connection reset")
	store.failOn["rollback"] = errors.New("conn busy")

	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewIngestionService(store, validator.NewValidator(0), nil, nil, zap.New(core))
	svc.now = fixedClock(ingestNow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Ingest(ctx, map[string]any{
		"meterId":       "M1",
		"kwhConsumedAc": 1.0,
		"voltage":       230.0,
		"timestamp":     "2023-01-01T00:00:00Z",
	})

	var perr *telemetry.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "insert meter history" {
		t.Fatalf("Expected the insert failure to be returned, got %v", err)
	}
	if store.rollbackCtxErr != nil {
		t.Errorf("Expected rollback to run on a live context, got %v", store.rollbackCtxErr)
	}
	if logs.FilterMessage("failed to roll back transaction").Len() != 1 {
		t.Errorf("Expected rollback failure to be logged, got %v", logs.All())
	}
}

func TestIngest_PublishFailureDoesNotFailIngest(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{err: errors.New("broker unavailable")}
	m := metrics.NewMetrics()
	svc := newTestIngestion(store, publisher, m)

	ack, err := svc.Ingest(context.Background(), map[string]any{
		"vehicleId":      "V1",
		"soc":            10.0,
		"kwhDeliveredDc": 1.0,
		"batteryTemp":    20.0,
		"timestamp":      "2023-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Expected committed ingest to succeed, got %v", err)
	}
	if ack == nil {
		t.Fatal("Expected ack")
	}
	if len(store.vehicleHistory) != 1 {
		t.Errorf("Expected committed history row, got %d", len(store.vehicleHistory))
	}
	exposition := scrape(t, m)
	if !strings.Contains(exposition, "telemetry_events_publish_failures_total 1") {
		t.Error("Expected 1 publish failure")
	}
	if !strings.Contains(exposition, `telemetry_ingest_total{outcome="ok",type="vehicle"} 1`) {
		t.Error("Expected ok outcome")
	}
}
