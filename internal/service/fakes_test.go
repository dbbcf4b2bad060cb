package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/db"
	"github.com/septivank/telemetry-ingestion-service/internal/events"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/repository"
)

// fakeStore records every call and can be told to fail a named step
type fakeStore struct {
	mu sync.Mutex

	calls  []string
	failOn map[string]error

	meterHistory   []*db.MeterReading
	meterState     map[string]*db.MeterLatestState
	vehicleHistory []*db.VehicleReading
	vehicleState   map[string]*db.VehicleLatestState

	rollbackCtxErr error

	meterAgg   db.MeterWindowAggregate
	vehicleAgg db.VehicleWindowAggregate
	since      []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		failOn:       map[string]error{},
		meterState:   map[string]*db.MeterLatestState{},
		vehicleState: map[string]*db.VehicleLatestState{},
	}
}

func (f *fakeStore) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) BeginTx(ctx context.Context) (repository.Tx, error) {
	if err := f.record("begin"); err != nil {
		return nil, err
	}
	return &fakeTx{store: f}, nil
}

func (f *fakeStore) SumMeterConsumption(ctx context.Context, since time.Time) (db.MeterWindowAggregate, error) {
	if err := f.record("sum_meter"); err != nil {
		return db.MeterWindowAggregate{}, err
	}
	f.mu.Lock()
	f.since = append(f.since, since)
	f.mu.Unlock()
	return f.meterAgg, nil
}

func (f *fakeStore) VehicleDeliverySummary(ctx context.Context, vehicleID string, since time.Time) (db.VehicleWindowAggregate, error) {
	if err := f.record("vehicle_summary"); err != nil {
		return db.VehicleWindowAggregate{}, err
	}
	f.mu.Lock()
	f.since = append(f.since, since)
	f.mu.Unlock()
	return f.vehicleAgg, nil
}

func (f *fakeStore) GetMeterLatestState(ctx context.Context, meterID string) (*db.MeterLatestState, error) {
	if err := f.record("get_meter"); err != nil {
		return nil, err
	}
	return f.meterState[meterID], nil
}

func (f *fakeStore) GetVehicleLatestState(ctx context.Context, vehicleID string) (*db.VehicleLatestState, error) {
	if err := f.record("get_vehicle"); err != nil {
		return nil, err
	}
	return f.vehicleState[vehicleID], nil
}

// fakeTx buffers writes and applies them to the store on commit
type fakeTx struct {
	store *fakeStore

	meterHistory   []*db.MeterReading
	meterState     []*db.MeterLatestState
	vehicleHistory []*db.VehicleReading
	vehicleState   []*db.VehicleLatestState

	committed  bool
	rolledBack bool
}

func (t *fakeTx) InsertMeterReading(ctx context.Context, reading *db.MeterReading) error {
	if err := t.store.record("insert_meter"); err != nil {
		return err
	}
	t.meterHistory = append(t.meterHistory, reading)
	return nil
}

func (t *fakeTx) UpsertMeterLatestState(ctx context.Context, state *db.MeterLatestState) error {
	if err := t.store.record("upsert_meter"); err != nil {
		return err
	}
	t.meterState = append(t.meterState, state)
	return nil
}

func (t *fakeTx) InsertVehicleReading(ctx context.Context, reading *db.VehicleReading) error {
	if err := t.store.record("insert_vehicle"); err != nil {
		return err
	}
	t.vehicleHistory = append(t.vehicleHistory, reading)
	return nil
}

func (t *fakeTx) UpsertVehicleLatestState(ctx context.Context, state *db.VehicleLatestState) error {
	if err := t.store.record("upsert_vehicle"); err != nil {
		return err
	}
	t.vehicleState = append(t.vehicleState, state)
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if err := t.store.record("commit"); err != nil {
		return err
	}
	t.committed = true

	f := t.store
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meterHistory = append(f.meterHistory, t.meterHistory...)
	f.vehicleHistory = append(f.vehicleHistory, t.vehicleHistory...)
	for _, s := range t.meterState {
		f.meterState[s.MeterID] = s
	}
	for _, s := range t.vehicleState {
		f.vehicleState[s.VehicleID] = s
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return nil
	}
	t.rolledBack = true
	t.store.mu.Lock()
	t.store.rollbackCtxErr = ctx.Err()
	t.store.mu.Unlock()
	return t.store.record("rollback")
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptr(v float64) *float64 {
	return &v
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected metrics scrape to succeed, got %d", rec.Code)
	}
	return rec.Body.String()
}
