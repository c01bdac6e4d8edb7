package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/practice-insights/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAggregator(t *testing.T, clock *fakeClock, opts ...Option) *Aggregator {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(nil, nil, opts...)
}

func production(id string, value float64, at time.Time) model.MetricEvent {
	return model.NewMetricEvent(id, MetricAppointmentProduction, value, "$", model.CategoryFinancial, at)
}

func TestAggregateSum(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.RecordEvent(production("production_1", 500, clock.Now().Add(-10*time.Minute))))
	require.NoError(t, agg.RecordEvent(production("production_2", 750, clock.Now().Add(-5*time.Minute))))

	result, ok := agg.Aggregate(RuleDailyProduction)
	require.True(t, ok)
	assert.Equal(t, 1250.0, result.Value)
	assert.Equal(t, RuleDailyProduction, result.Name)
	assert.Equal(t, model.CategoryFinancial, result.Category)
	assert.Equal(t, "$", result.Unit)

	latest, found, err := agg.GetLatestMetric(context.Background(), RuleDailyProduction)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1250.0, latest.Value)

	byKey, found, err := agg.GetLatestMetric(context.Background(), "financial_daily_production")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, latest, byKey)
}

func TestAggregateRespectsWindow(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.RecordEvent(production("production_old", 400, clock.Now().Add(-2*time.Hour))))
	require.NoError(t, agg.RecordEvent(production("production_new", 100, clock.Now().Add(-30*time.Minute))))

	hourly, ok := agg.Aggregate(RuleHourlyProduction)
	require.True(t, ok)
	assert.Equal(t, 100.0, hourly.Value)

	daily, ok := agg.Aggregate(RuleDailyProduction)
	require.True(t, ok)
	assert.Equal(t, 500.0, daily.Value)
}

func TestAggregateNoData(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	_, ok := agg.Aggregate(RuleCurrentWaitTime)
	assert.False(t, ok, "no events must be distinct from zero")

	_, ok = agg.Aggregate("does_not_exist")
	assert.False(t, ok)

	_, found, err := agg.GetLatestMetric(context.Background(), RuleCurrentWaitTime)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAggregateLastAndAverage(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)
	now := clock.Now()

	for i, v := range []float64{60, 80, 70} {
		e := model.NewMetricEvent(MetricChairUtilization, MetricChairUtilization, v, "%", model.CategoryOperational, now.Add(time.Duration(i-3)*time.Minute))
		require.NoError(t, agg.RecordEvent(e))
	}
	occupancy, ok := agg.Aggregate(RuleChairOccupancy)
	require.True(t, ok)
	assert.Equal(t, 70.0, occupancy.Value)

	for i, v := range []float64{10, 20} {
		e := model.NewMetricEvent("wait_x", MetricWaitTime, v, "min", model.CategoryOperational, now.Add(time.Duration(-i-1)*time.Minute))
		require.NoError(t, agg.RecordEvent(e))
	}
	wait, ok := agg.Aggregate(RuleCurrentWaitTime)
	require.True(t, ok)
	assert.Equal(t, 15.0, wait.Value)
	assert.Equal(t, model.CategoryOperational, wait.Category)
}

func TestRecordEventPrunesOldEntries(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	for i := 0; i < 10; i++ {
		require.NoError(t, agg.RecordEvent(production("stale", 10, clock.Now().Add(-25*time.Hour))))
	}

	history, err := agg.GetMetricHistory("financial_appointment_production", 60*48)
	require.NoError(t, err)
	assert.Empty(t, history)

	agg.mu.Lock()
	assert.Empty(t, agg.cache)
	agg.mu.Unlock()
}

func TestGetMetricHistory(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.RecordEvent(production("a", 1, clock.Now().Add(-90*time.Minute))))
	require.NoError(t, agg.RecordEvent(production("b", 2, clock.Now().Add(-20*time.Minute))))
	require.NoError(t, agg.RecordEvent(production("c", 3, clock.Now().Add(-5*time.Minute))))

	history, err := agg.GetMetricHistory("financial_appointment_production", 60)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].ID)
	assert.Equal(t, "c", history[1].ID)

	_, err = agg.GetMetricHistory("financial_appointment_production", 0)
	assert.Error(t, err)
}

func TestRecordEventRejectsInvalid(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	err := agg.RecordEvent(model.MetricEvent{Name: "x", Category: "bogus", Timestamp: clock.Now()})
	assert.Error(t, err)
}

func TestSubscribeFanOut(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	var mu sync.Mutex
	var first, second []float64

	sub1 := agg.SubscribeToMetric(RuleDailyProduction, func(e model.MetricEvent) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, e.Value)
	})
	agg.SubscribeToMetric(RuleDailyProduction, func(e model.MetricEvent) {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, e.Value)
	})
	agg.SubscribeToMetric(RuleDailyProduction, func(e model.MetricEvent) {
		panic("subscriber failure")
	})

	require.NoError(t, agg.RecordEvent(production("p1", 100, clock.Now())))
	_, ok := agg.Aggregate(RuleDailyProduction)
	require.True(t, ok)

	sub1.Unsubscribe()
	sub1.Unsubscribe()

	require.NoError(t, agg.RecordEvent(production("p2", 50, clock.Now())))
	_, ok = agg.Aggregate(RuleDailyProduction)
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{100}, first)
	assert.Equal(t, []float64{100, 150}, second)
}

func TestSubscribeByCacheKey(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	received := make(chan model.MetricEvent, 1)
	agg.SubscribeToMetric("financial_appointment_production", func(e model.MetricEvent) {
		received <- e
	})

	require.NoError(t, agg.RecordEvent(production("p1", 42, clock.Now())))

	select {
	case e := <-received:
		assert.Equal(t, 42.0, e.Value)
	default:
		t.Fatal("subscriber was not notified synchronously")
	}

	agg.UnsubscribeFromMetric("financial_appointment_production")
	assert.Equal(t, 0, agg.subs.count("financial_appointment_production"))
}

func TestAddAggregationRule(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	err := agg.AddAggregationRule(model.AggregationRule{MetricID: "bad", AggregationType: model.AggregationSum, TimeWindowMinutes: 0, RefreshIntervalSeconds: 10}, "x")
	assert.ErrorIs(t, err, ErrInvalidRule)

	err = agg.AddAggregationRule(model.AggregationRule{MetricID: "bad", AggregationType: model.AggregationSum, TimeWindowMinutes: 10, RefreshIntervalSeconds: 0}, "x")
	assert.ErrorIs(t, err, ErrInvalidRule)

	err = agg.AddAggregationRule(model.AggregationRule{MetricID: "orphan", AggregationType: model.AggregationSum, TimeWindowMinutes: 10, RefreshIntervalSeconds: 10})
	assert.ErrorIs(t, err, ErrInvalidRule)

	err = agg.AddAggregationRule(model.AggregationRule{MetricID: "loop", AggregationType: model.AggregationSum, TimeWindowMinutes: 10, RefreshIntervalSeconds: 10}, "loop")
	assert.ErrorIs(t, err, ErrInvalidRule)

	require.NoError(t, agg.AddAggregationRule(
		model.AggregationRule{MetricID: "max_wait", AggregationType: model.AggregationMax, TimeWindowMinutes: 60, RefreshIntervalSeconds: 60},
		MetricWaitTime,
	))
	for _, v := range []float64{4, 19, 7} {
		require.NoError(t, agg.RecordEvent(model.NewMetricEvent("w", MetricWaitTime, v, "min", model.CategoryOperational, clock.Now())))
	}
	maxWait, ok := agg.Aggregate("max_wait")
	require.True(t, ok)
	assert.Equal(t, 19.0, maxWait.Value)

	rules := agg.Rules()
	assert.Equal(t, RuleDailyProduction, rules[0].MetricID)
	assert.Equal(t, "max_wait", rules[len(rules)-1].MetricID)
	assert.Equal(t, []string{MetricWaitTime}, agg.Sources("max_wait"))
}

func TestConcurrentRecordEvent(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := model.NewMetricEvent("flow", MetricPatientStarted, 1, "", model.CategoryOperational, clock.Now())
			assert.NoError(t, agg.RecordEvent(e))
			agg.Aggregate(RulePatientThroughput)
		}()
	}
	wg.Wait()

	result, ok := agg.Aggregate(RulePatientThroughput)
	require.True(t, ok)
	assert.Equal(t, 50.0, result.Value)
}

func TestRefreshTimers(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.AddAggregationRule(
		model.AggregationRule{MetricID: "ping_count", AggregationType: model.AggregationCount, TimeWindowMinutes: 5, RefreshIntervalSeconds: 1},
		"ping",
	))
	require.NoError(t, agg.RecordEvent(model.NewMetricEvent("p", "ping", 1, "", model.CategoryOperational, clock.Now())))

	ticks := make(chan model.MetricEvent, 10)
	agg.SubscribeToMetric("ping_count", func(e model.MetricEvent) {
		select {
		case ticks <- e:
		default:
		}
	})

	require.NoError(t, agg.StartRealtimeSubscriptions(context.Background()))
	require.NoError(t, agg.StartRealtimeSubscriptions(context.Background()))

	select {
	case e := <-ticks:
		assert.Equal(t, 1.0, e.Value)
	case <-time.After(3 * time.Second):
		t.Fatal("refresh timer never fired")
	}

	agg.StopRealtimeSubscriptions()
}

func TestStopIsTerminal(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.StartRealtimeSubscriptions(context.Background()))
	require.NoError(t, agg.RecordEvent(production("p1", 10, clock.Now())))

	called := false
	agg.SubscribeToMetric(RuleDailyProduction, func(model.MetricEvent) { called = true })

	agg.StopRealtimeSubscriptions()
	agg.StopRealtimeSubscriptions()

	_, _, err := agg.GetLatestMetric(context.Background(), RuleDailyProduction)
	assert.ErrorIs(t, err, ErrStopped)

	_, err = agg.GetMetricHistory(RuleDailyProduction, 60)
	assert.ErrorIs(t, err, ErrStopped)

	assert.ErrorIs(t, agg.RecordEvent(production("p2", 10, clock.Now())), ErrStopped)

	_, ok := agg.Aggregate(RuleDailyProduction)
	assert.False(t, ok)
	assert.False(t, called)

	sub := agg.SubscribeToMetric(RuleDailyProduction, func(model.MetricEvent) {})
	assert.NotPanics(t, sub.Unsubscribe)

	assert.ErrorIs(t, agg.StartRealtimeSubscriptions(context.Background()), ErrStopped)
}

// tickingClock moves forward on every read so concurrent callers see distinct times.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Microsecond)
	return c.now
}

func TestConcurrentAggregatesKeepTimestampOrder(t *testing.T) {
	clock := &tickingClock{now: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)}
	agg := New(nil, nil, WithClock(clock.Now))

	require.NoError(t, agg.RecordEvent(production("production_1", 640, clock.Now().Add(-time.Minute))))

	const workers, calls = 8, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				agg.Aggregate(RuleDailyProduction)
			}
		}()
	}
	wg.Wait()

	history, err := agg.GetMetricHistory(RuleDailyProduction, 60)
	require.NoError(t, err)
	require.Len(t, history, workers*calls)
	for i := 1; i < len(history); i++ {
		require.True(t, history[i].Timestamp.After(history[i-1].Timestamp),
			"entry %d at %s is not after %s", i, history[i].Timestamp, history[i-1].Timestamp)
	}

	latest, found, err := agg.GetLatestMetric(context.Background(), RuleDailyProduction)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, history[len(history)-1].Timestamp, latest.Timestamp)
}

func TestAggregateUnits(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.RecordEvent(model.NewMetricEvent("started_1", MetricPatientStarted, 1, "$", model.CategoryOperational, clock.Now().Add(-time.Minute))))
	require.NoError(t, agg.RecordEvent(model.NewMetricEvent("wait_1", MetricWaitTime, 12, "min", model.CategoryOperational, clock.Now().Add(-time.Minute))))

	throughput, ok := agg.Aggregate(RulePatientThroughput)
	require.True(t, ok)
	assert.Equal(t, 1.0, throughput.Value)
	assert.Equal(t, "count", throughput.Unit, "counts never inherit the source unit")

	wait, ok := agg.Aggregate(RuleCurrentWaitTime)
	require.True(t, ok)
	assert.Equal(t, "min", wait.Unit)
}

func TestAggregateWindowExcludesCutoff(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(t, clock)

	require.NoError(t, agg.RecordEvent(production("production_edge", 300, clock.Now().Add(-time.Hour))))
	require.NoError(t, agg.RecordEvent(production("production_inside", 50, clock.Now().Add(-time.Hour+time.Second))))

	hourly, ok := agg.Aggregate(RuleHourlyProduction)
	require.True(t, ok)
	assert.Equal(t, 50.0, hourly.Value, "an event exactly one window old is outside the window")

	daily, ok := agg.Aggregate(RuleDailyProduction)
	require.True(t, ok)
	assert.Equal(t, 350.0, daily.Value)
}
