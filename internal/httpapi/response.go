package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
)

type ingestResponse struct {
	Success bool `json:"success"`
	*telemetry.Ack
}

type errorResponse struct {
	Success    bool     `json:"success"`
	StatusCode int      `json:"statusCode"`
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{
		StatusCode: status,
		Error:      kind,
		Message:    message,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case telemetry.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, telemetry.ErrDeviceNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err. Server-side failures expose only the taxonomy
// message; the wrapped store error stays in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{
		StatusCode: status,
		Error:      telemetry.ErrorKind(err),
		Message:    err.Error(),
	}

	var verr *telemetry.ValidationError
	if errors.As(err, &verr) {
		resp.Violations = verr.Violations
	}

	if status >= http.StatusInternalServerError {
		switch {
		case errors.Is(err, telemetry.ErrPersistenceFailed):
			resp.Message = telemetry.ErrPersistenceFailed.Error()
		case errors.Is(err, telemetry.ErrQueryFailed):
			resp.Message = telemetry.ErrQueryFailed.Error()
		default:
			resp.Message = "internal error"
		}
	}

	writeJSON(w, status, resp)
}
