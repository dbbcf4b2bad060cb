package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/telemetry-ingestion-service/internal/db"
	"github.com/septivank/telemetry-ingestion-service/internal/events"
	"github.com/septivank/telemetry-ingestion-service/internal/logging"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/repository"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"github.com/septivank/telemetry-ingestion-service/internal/validator"
	"go.uber.org/zap"
)

// IngestionService routes payloads to the right schema and dual-writes them
// to history and latest state in one transaction
type IngestionService struct {
	store     repository.TxBeginner
	validator *validator.Validator
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestionService creates a new ingestion service. publisher and m may be nil.
func NewIngestionService(
	store repository.TxBeginner,
	validator *validator.Validator,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		store:     store,
		validator: validator,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest processes one untyped telemetry payload
func (s *IngestionService) Ingest(ctx context.Context, payload map[string]any) (*telemetry.Ack, error) {
	start := s.now()

	kind, err := telemetry.Discriminate(payload)
	if err != nil {
		s.logger.Warn("rejected payload", zap.String("kind", telemetry.ErrorKind(err)), zap.Error(err))
		s.metrics.Ingest("", telemetry.ErrorKind(err), s.now().Sub(start))
		return nil, err
	}

	reading, err := s.validator.Validate(kind, payload, start)
	if err != nil {
		s.logger.Warn("payload failed validation",
			zap.String("device_type", string(kind)),
			zap.Error(err),
		)
		s.metrics.Ingest(string(kind), telemetry.ErrorKind(err), s.now().Sub(start))
		return nil, err
	}

	logger := logging.WithDevice(s.logger, string(kind), reading.DeviceID())

	if err := s.persist(ctx, reading, start); err != nil {
		logger.Error("failed to persist reading", zap.Error(err))
		s.metrics.Ingest(string(kind), telemetry.ErrorKind(err), s.now().Sub(start))
		return nil, err
	}

	// Publish events after successful commit
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewIngested(reading, start)); err != nil {
			// Log error but don't fail the ingest
			logger.Error("failed to publish ingested event", zap.Error(err))
			s.metrics.EventPublishFailed()
		}
	}

	logger.Info("reading ingested", zap.Time("timestamp", reading.EventTime()))
	s.metrics.Ingest(string(kind), metrics.OutcomeOK, s.now().Sub(start))

	return &telemetry.Ack{
		Type:      kind,
		DeviceID:  reading.DeviceID(),
		Timestamp: reading.EventTime(),
	}, nil
}

func (s *IngestionService) persist(ctx context.Context, reading telemetry.Reading, now time.Time) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return &telemetry.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer func() {
		// Rollback is a no-op after commit; it still runs if the caller's context is gone.
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to roll back transaction", zap.Error(err))
		}
	}()

	switch r := reading.(type) {
	case *telemetry.MeterReading:
		err = writeMeter(ctx, tx, r, now)
	case *telemetry.VehicleReading:
		err = writeVehicle(ctx, tx, r, now)
	default:
		return fmt.Errorf("unsupported reading type %T", reading)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &telemetry.PersistenceError{Op: "commit transaction", Err: err}
	}
	return nil
}

func writeMeter(ctx context.Context, tx repository.Tx, r *telemetry.MeterReading, now time.Time) error {
	history := &db.MeterReading{
		ID:               uuid.New(),
		MeterID:          r.MeterID,
		KwhConsumedAC:    r.KwhConsumedAC,
		Voltage:          r.Voltage,
		ReadingTimestamp: r.Timestamp,
		CreatedAt:        now,
	}
	if err := tx.InsertMeterReading(ctx, history); err != nil {
		return &telemetry.PersistenceError{Op: "insert meter history", Err: err}
	}

	state := &db.MeterLatestState{
		MeterID:       r.MeterID,
		KwhConsumedAC: r.KwhConsumedAC,
		Voltage:       r.Voltage,
		LastSeenAt:    r.Timestamp,
		UpdatedAt:     now,
	}
	if err := tx.UpsertMeterLatestState(ctx, state); err != nil {
		return &telemetry.PersistenceError{Op: "upsert meter latest state", Err: err}
	}
	return nil
}

func writeVehicle(ctx context.Context, tx repository.Tx, r *telemetry.VehicleReading, now time.Time) error {
	history := &db.VehicleReading{
		ID:               uuid.New(),
		VehicleID:        r.VehicleID,
		SOC:              r.SOC,
		KwhDeliveredDC:   r.KwhDeliveredDC,
		BatteryTemp:      r.BatteryTemp,
		ReadingTimestamp: r.Timestamp,
		CreatedAt:        now,
	}
	if err := tx.InsertVehicleReading(ctx, history); err != nil {
		return &telemetry.PersistenceError{Op: "insert vehicle history", Err: err}
	}

	state := &db.VehicleLatestState{
		VehicleID:      r.VehicleID,
		SOC:            r.SOC,
		KwhDeliveredDC: r.KwhDeliveredDC,
		BatteryTemp:    r.BatteryTemp,
		LastSeenAt:     r.Timestamp,
		UpdatedAt:      now,
	}
	if err := tx.UpsertVehicleLatestState(ctx, state); err != nil {
		return &telemetry.PersistenceError{Op: "upsert vehicle latest state", Err: err}
	}
	return nil
}
