package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/septivank/telemetry-ingestion-service/internal/logging"
	"github.com/septivank/telemetry-ingestion-service/internal/repository"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type handler struct {
	ingestion Ingester
	analytics PerformanceReader
	state     StateReader
	store     repository.Pinger
	logger    *zap.Logger
}

func (h *handler) requestLogger(r *http.Request) *zap.Logger {
	return logging.WithRequestID(h.logger, RequestIDFromContext(r.Context()))
}

func (h *handler) ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, telemetry.KindMalformedPayload, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, telemetry.KindMalformedPayload, "failed to read request body")
		return
	}

	payload, err := telemetry.DecodePayload(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ack, err := h.ingestion.Ingest(r.Context(), payload)
	if err != nil {
		if !telemetry.IsClientError(err) {
			h.requestLogger(r).Error("ingest failed", zap.Error(err))
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{Success: true, Ack: ack})
}

func (h *handler) performance(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicleId"]

	summary, err := h.analytics.GetPerformance(r.Context(), vehicleID)
	if err != nil {
		h.requestLogger(r).Error("performance query failed", zap.String("vehicle_id", vehicleID), zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) meterLatest(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.GetMeterState(r.Context(), mux.Vars(r)["meterId"])
	if err != nil {
		h.logLookupError(r, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) vehicleLatest(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.GetVehicleState(r.Context(), mux.Vars(r)["vehicleId"])
	if err != nil {
		h.logLookupError(r, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) logLookupError(r *http.Request, err error) {
	if errors.Is(err, telemetry.ErrDeviceNotFound) {
		return
	}
	h.requestLogger(r).Error("latest state lookup failed", zap.Error(err))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.requestLogger(r).Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "store": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "store": "up"})
}
