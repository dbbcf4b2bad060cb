package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
)

// Event is published once a reading has been committed to both stores
type Event struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	IngestedAt time.Time `json:"ingested_at"`
}

// NewIngested builds the event for a committed reading
func NewIngested(reading telemetry.Reading, ingestedAt time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       string(reading.DeviceType()),
		DeviceID:   reading.DeviceID(),
		Timestamp:  reading.EventTime().UTC(),
		IngestedAt: ingestedAt.UTC(),
	}
}

// Publisher delivers ingested events to a downstream sink
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes every event to all configured sinks
type Fanout struct {
	sinks []Publisher
}

// NewFanout creates a fanout over the non-nil sinks
func NewFanout(sinks ...Publisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of configured sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Publish sends the event to each sink. A failing sink does not stop the others.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
