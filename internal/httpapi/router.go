package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/repository"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Ingester accepts one decoded telemetry payload
type Ingester interface {
	Ingest(ctx context.Context, payload map[string]any) (*telemetry.Ack, error)
}

// PerformanceReader computes the 24-hour performance summary of a vehicle
type PerformanceReader interface {
	GetPerformance(ctx context.Context, vehicleID string) (*telemetry.PerformanceSummary, error)
}

// StateReader serves latest-state lookups
type StateReader interface {
	GetMeterState(ctx context.Context, meterID string) (*telemetry.MeterState, error)
	GetVehicleState(ctx context.Context, vehicleID string) (*telemetry.VehicleState, error)
}

// Deps are the services behind the HTTP API
type Deps struct {
	Ingestion Ingester
	Analytics PerformanceReader
	State     StateReader
	Store     repository.Pinger
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewRouter builds the HTTP handler with request ids, panic recovery and access logs
func NewRouter(deps Deps) http.Handler {
	h := &handler{
		ingestion: deps.Ingestion,
		analytics: deps.Analytics,
		state:     deps.State,
		store:     deps.Store,
		logger:    deps.Logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/telemetry/ingest", h.ingest).Methods(http.MethodPost)
	v1.HandleFunc("/telemetry/meters/{meterId}/latest", h.meterLatest).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/vehicles/{vehicleId}/latest", h.vehicleLatest).Methods(http.MethodGet)
	v1.HandleFunc("/analytics/performance/{vehicleId}", h.performance).Methods(http.MethodGet)

	for _, router := range []*mux.Router{r, v1} {
		router.NotFoundHandler = http.HandlerFunc(notFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}

	accessLog := &zapio.Writer{Log: deps.Logger.Named("access"), Level: zap.InfoLevel}

	var out http.Handler = r
	out = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(deps.Logger.Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)(out)
	out = handlers.LoggingHandler(accessLog, out)
	out = requestID(out)
	return out
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NotFound", "route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
}
