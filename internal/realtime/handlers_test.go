package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/practice-insights/internal/model"
)

type fakeData struct {
	mu          sync.Mutex
	production  map[string]float64
	noShowRate  float64
	utilization float64
	balance     float64
	err         error
	calls       int
}

func (f *fakeData) AppointmentProduction(_ context.Context, id string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.production[id], nil
}

func (f *fakeData) RecentNoShowRate(_ context.Context, _ time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noShowRate, f.err
}

func (f *fakeData) ChairUtilization(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.utilization, f.err
}

func (f *fakeData) OutstandingBalance(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingSink) RaiseAlert(_ context.Context, alert Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func change(t *testing.T, table string, eventType model.EventType, next, prev any) model.Change {
	t.Helper()
	c := model.Change{Table: table, EventType: eventType}
	if next != nil {
		raw, err := json.Marshal(next)
		require.NoError(t, err)
		c.New = raw
	}
	if prev != nil {
		raw, err := json.Marshal(prev)
		require.NoError(t, err)
		c.Old = raw
	}
	return c
}

func latestValue(t *testing.T, agg *Aggregator, id string) (float64, bool) {
	t.Helper()
	e, ok, err := agg.GetLatestMetric(context.Background(), id)
	require.NoError(t, err)
	return e.Value, ok
}

func TestCompletedAppointmentProduction(t *testing.T) {
	clock := newFakeClock()
	data := &fakeData{production: map[string]float64{"a2": 900}}
	agg := New(nil, data, WithClock(clock.Now))
	ctx := context.Background()

	completed := map[string]any{
		"id":     "a1",
		"status": "completed",
		"treatments": []map[string]any{
			{"id": "t1", "price": 250},
			{"id": "t2", "price": 150},
		},
	}
	prev := map[string]any{"id": "a1", "status": "in_progress"}

	c := change(t, model.TableAppointments, model.EventUpdate, completed, prev)
	require.NoError(t, agg.HandleChange(ctx, c))
	require.NoError(t, agg.HandleChange(ctx, c))

	v, ok := latestValue(t, agg, RuleDailyProduction)
	require.True(t, ok)
	assert.Equal(t, 400.0, v, "duplicate delivery must not double count")
	assert.Equal(t, 0, data.calls, "treatments on the row need no lookup")

	lookedUp := map[string]any{"id": "a2", "status": "completed"}
	require.NoError(t, agg.HandleChange(ctx, change(t, model.TableAppointments, model.EventUpdate, lookedUp, map[string]any{"id": "a2", "status": "scheduled"})))

	v, ok = latestValue(t, agg, RuleDailyProduction)
	require.True(t, ok)
	assert.Equal(t, 1300.0, v)

	v, ok = latestValue(t, agg, RuleHourlyProduction)
	require.True(t, ok)
	assert.Equal(t, 1300.0, v)
}

func TestProductionLookupFailureRequestsRedelivery(t *testing.T) {
	clock := newFakeClock()
	data := &fakeData{err: errors.New("analytics unavailable")}
	agg := New(nil, data, WithClock(clock.Now))

	c := change(t, model.TableAppointments, model.EventUpdate,
		map[string]any{"id": "a1", "status": "completed"},
		map[string]any{"id": "a1", "status": "in_progress"})

	assert.Error(t, agg.HandleChange(context.Background(), c))

	_, ok := latestValue(t, agg, RuleDailyProduction)
	assert.False(t, ok)
}

func TestAppointmentFlowAndWaitTime(t *testing.T) {
	clock := newFakeClock()
	agg := New(nil, &fakeData{}, WithClock(clock.Now))
	ctx := context.Background()

	scheduled := clock.Now().Add(-20 * time.Minute)
	started := scheduled.Add(12 * time.Minute)

	next := map[string]any{"id": "a1", "status": "in_progress", "scheduled_time": scheduled, "actual_start_time": started}
	prev := map[string]any{"id": "a1", "status": "scheduled", "scheduled_time": scheduled}
	require.NoError(t, agg.HandleChange(ctx, change(t, model.TableAppointments, model.EventUpdate, next, prev)))

	throughput, ok := latestValue(t, agg, RulePatientThroughput)
	require.True(t, ok)
	assert.Equal(t, 1.0, throughput)

	wait, ok := latestValue(t, agg, RuleCurrentWaitTime)
	require.True(t, ok)
	assert.InDelta(t, 12.0, wait, 0.001)

	early := map[string]any{"id": "a2", "status": "in_progress", "scheduled_time": scheduled, "actual_start_time": scheduled.Add(-5 * time.Minute)}
	require.NoError(t, agg.HandleChange(ctx, change(t, model.TableAppointments, model.EventUpdate, early, map[string]any{"id": "a2", "status": "checked_in"})))

	wait, ok = latestValue(t, agg, RuleCurrentWaitTime)
	require.True(t, ok)
	assert.InDelta(t, 6.0, wait, 0.001, "early starts count as zero wait")
}

func TestNoShowAlert(t *testing.T) {
	tests := []struct {
		name   string
		rate   float64
		alerts int
	}{
		{"above threshold", 20, 1},
		{"at threshold", 15, 0},
		{"below threshold", 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			sink := &recordingSink{}
			agg := New(nil, &fakeData{noShowRate: tt.rate}, WithClock(clock.Now), WithAlertSink(sink))

			c := change(t, model.TableAppointments, model.EventUpdate,
				map[string]any{"id": "a9", "status": "no_show"},
				map[string]any{"id": "a9", "status": "scheduled"})
			require.NoError(t, agg.HandleChange(context.Background(), c))
			require.NoError(t, agg.HandleChange(context.Background(), c))

			sink.mu.Lock()
			defer sink.mu.Unlock()
			require.Len(t, sink.alerts, tt.alerts)
			if tt.alerts > 0 {
				assert.Equal(t, "high_no_show_rate", sink.alerts[0].Name)
				assert.Equal(t, tt.rate, sink.alerts[0].Value)
				assert.Equal(t, 15.0, sink.alerts[0].Threshold)
			}
		})
	}
}

func TestBillingCollectionsNeverDoubleCount(t *testing.T) {
	clock := newFakeClock()
	data := &fakeData{balance: 12000}
	agg := New(nil, data, WithClock(clock.Now))
	ctx := context.Background()

	insert := change(t, model.TableBillings, model.EventInsert, map[string]any{"id": "b1", "total_amount": 500, "amount_paid": 200}, nil)
	require.NoError(t, agg.HandleChange(ctx, insert))

	update := change(t, model.TableBillings, model.EventUpdate,
		map[string]any{"id": "b1", "total_amount": 500, "amount_paid": 300},
		map[string]any{"id": "b1", "amount_paid": 200})
	require.NoError(t, agg.HandleChange(ctx, update))
	require.NoError(t, agg.HandleChange(ctx, update))

	collections, ok := latestValue(t, agg, RuleDailyCollections)
	require.True(t, ok)
	assert.Equal(t, 300.0, collections)

	partialOld := change(t, model.TableBillings, model.EventUpdate,
		map[string]any{"id": "b1", "total_amount": 500, "amount_paid": 350},
		map[string]any{"id": "b1"})
	require.NoError(t, agg.HandleChange(ctx, partialOld))

	collections, ok = latestValue(t, agg, RuleDailyCollections)
	require.True(t, ok)
	assert.Equal(t, 350.0, collections)

	_, ok = latestValue(t, agg, RuleDailyProduction)
	assert.False(t, ok, "collections must not feed production")

	balance, ok := latestValue(t, agg, "financial_outstanding_balance")
	require.True(t, ok)
	assert.Equal(t, 12000.0, balance)
}

func TestPatientChanges(t *testing.T) {
	clock := newFakeClock()
	agg := New(nil, &fakeData{}, WithClock(clock.Now))
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p2"} {
		require.NoError(t, agg.HandleChange(ctx, change(t, model.TablePatients, model.EventInsert, map[string]any{"id": id, "status": "active"}, nil)))
	}
	registrations, ok := latestValue(t, agg, RuleNewPatientRegistrations)
	require.True(t, ok)
	assert.Equal(t, 2.0, registrations)

	reactivate := change(t, model.TablePatients, model.EventUpdate,
		map[string]any{"id": "p7", "status": "active"},
		map[string]any{"id": "p7", "status": "inactive"})
	require.NoError(t, agg.HandleChange(ctx, reactivate))

	history, err := agg.GetMetricHistory("patient_patient_reactivated", 60)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestOperatoryChange(t *testing.T) {
	clock := newFakeClock()
	data := &fakeData{utilization: 75}
	agg := New(nil, data, WithClock(clock.Now))

	require.NoError(t, agg.HandleChange(context.Background(), change(t, model.TableOperatoryStatus, model.EventUpdate, map[string]any{"id": "op1", "status": "occupied"}, nil)))

	occupancy, ok := latestValue(t, agg, RuleChairOccupancy)
	require.True(t, ok)
	assert.Equal(t, 75.0, occupancy)
}

func TestMalformedChangeIsAcknowledged(t *testing.T) {
	clock := newFakeClock()
	agg := New(nil, &fakeData{}, WithClock(clock.Now))

	c := model.Change{Table: model.TablePatients, EventType: model.EventInsert, New: json.RawMessage(`{"id": 42`)}
	assert.NoError(t, agg.HandleChange(context.Background(), c))

	c = model.Change{Table: "invoices", EventType: model.EventInsert}
	assert.NoError(t, agg.HandleChange(context.Background(), c))
}
