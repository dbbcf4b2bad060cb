package service

import (
	"context"
	"math"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/db"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/repository"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PerformanceWindow is the fixed lookback of every performance summary
const PerformanceWindow = 24 * time.Hour

// AnalyticsService computes charging performance over the last PerformanceWindow
type AnalyticsService struct {
	store   repository.AggregateReader
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(store repository.AggregateReader, m *metrics.Metrics, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// GetPerformance returns fleet-wide AC consumption against the vehicle's DC delivery.
// An unknown vehicle yields a zero summary.
func (s *AnalyticsService) GetPerformance(ctx context.Context, vehicleID string) (*telemetry.PerformanceSummary, error) {
	start := s.now()
	since := start.Add(-PerformanceWindow)

	var (
		meters  db.MeterWindowAggregate
		vehicle db.VehicleWindowAggregate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agg, err := s.store.SumMeterConsumption(gctx, since)
		if err != nil {
			return &telemetry.QueryError{Op: "sum meter consumption", Err: err}
		}
		meters = agg
		return nil
	})
	g.Go(func() error {
		agg, err := s.store.VehicleDeliverySummary(gctx, vehicleID, since)
		if err != nil {
			return &telemetry.QueryError{Op: "summarize vehicle delivery", Err: err}
		}
		vehicle = agg
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("failed to compute performance",
			zap.String("vehicle_id", vehicleID),
			zap.Error(err),
		)
		s.metrics.Analytics(telemetry.ErrorKind(err), s.now().Sub(start))
		return nil, err
	}

	summary := summarize(vehicleID, meters, vehicle)

	s.logger.Debug("performance computed",
		zap.String("vehicle_id", vehicleID),
		zap.Int64("vehicle_readings", vehicle.Readings),
		zap.Float64("efficiency", summary.Efficiency),
	)
	s.metrics.Analytics(metrics.OutcomeOK, s.now().Sub(start))

	return summary, nil
}

func summarize(vehicleID string, meters db.MeterWindowAggregate, vehicle db.VehicleWindowAggregate) *telemetry.PerformanceSummary {
	totalAC := valueOrZero(meters.TotalAC)
	totalDC := valueOrZero(vehicle.TotalDC)

	efficiency := 0.0
	if totalAC > 0 {
		efficiency = totalDC / totalAC * 100
	}

	return &telemetry.PerformanceSummary{
		VehicleID:      vehicleID,
		TotalACKwh:     round(totalAC, 4),
		TotalDCKwh:     round(totalDC, 4),
		Efficiency:     round(efficiency, 2),
		AvgBatteryTemp: round(valueOrZero(vehicle.AvgTemp), 2),
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
