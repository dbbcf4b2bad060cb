package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedPayload     = errors.New("malformed payload: body must be a single JSON object")
	ErrAmbiguousPayload     = errors.New("ambiguous payload: contains both meterId and vehicleId")
	ErrMissingDiscriminator = errors.New("missing discriminator: payload must contain either meterId or vehicleId")
	ErrValidationFailed     = errors.New("validation failed")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrQueryFailed          = errors.New("query failed")
	ErrDeviceNotFound       = errors.New("device not found")
)

// Error kinds reported to callers, logs and metric labels
const (
	KindMalformedPayload     = "MalformedPayload"
	KindAmbiguousPayload     = "AmbiguousPayload"
	KindMissingDiscriminator = "MissingDiscriminator"
	KindValidationFailed     = "ValidationFailed"
	KindPersistenceFailed    = "PersistenceFailed"
	KindQueryFailed          = "QueryFailed"
	KindDeviceNotFound       = "DeviceNotFound"
	KindInternal             = "Internal"
)

// ValidationError carries every violated field constraint of one payload
type ValidationError struct {
	Type       DeviceType
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed.Error(), strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// PersistenceError reports an aborted dual-write; nothing was committed
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistenceFailed.Error(), e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailed
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// QueryError reports a failed analytics or state read
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrQueryFailed.Error(), e.Op, e.Err)
}

func (e *QueryError) Is(target error) bool {
	return target == ErrQueryFailed
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ErrorKind maps an error onto its taxonomy name
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return KindMalformedPayload
	case errors.Is(err, ErrAmbiguousPayload):
		return KindAmbiguousPayload
	case errors.Is(err, ErrMissingDiscriminator):
		return KindMissingDiscriminator
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrPersistenceFailed):
		return KindPersistenceFailed
	case errors.Is(err, ErrQueryFailed):
		return KindQueryFailed
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	default:
		return KindInternal
	}
}

// IsClientError reports whether err was caused by the payload rather than the store
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrAmbiguousPayload) ||
		errors.Is(err, ErrMissingDiscriminator) ||
		errors.Is(err, ErrValidationFailed)
}
