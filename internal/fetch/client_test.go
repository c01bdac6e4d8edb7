package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yourorg/practice-insights/internal/model"
)

func testOptions(url string) Options {
	opts := DefaultOptions(url, "secret", "practice-1")
	opts.RetryMax = 0
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = time.Millisecond
	opts.BreakerFailures = 2
	opts.BreakerTimeout = time.Minute
	return opts
}

func TestClientEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/practices/practice-1/metrics", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2025-03-10", r.URL.Query().Get("date"))
		w.Write([]byte(`{"financial":{"collectionRate":{"value":88,"changePercent":-2.5,"trend":"down"}},"operational":{"noShowRate":{"value":18}}}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-02-08T00:00:00Z", r.URL.Query().Get("since"))
		w.Write([]byte(`{"production":[{"date":"2025-03-01T00:00:00Z","total_production":4200}],"appointments":[{"id":"a1","status":"completed"}]}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/benchmarks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"overallScore":72,"opportunities":[{"metric":"chairUtilization","potentialImpact":60000,"recommendedActions":["Open evening slots"]}]}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/forecast/scheduling", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictedNoShows":3,"optimalOverbooking":2}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/forecast/financial", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		w.Write([]byte(`[{"production":{"value":10000}},{"production":{"value":12500}}]`))
	})
	mux.HandleFunc("/v1/practices/practice-1/appointments/a1/production", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"production":640}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/no-show-rate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rate":17.5}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/chair-utilization", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"utilization":71}`))
	})
	mux.HandleFunc("/v1/practices/practice-1/outstanding-balance", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance":12000}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(testOptions(server.URL), nil)
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	snapshot, err := c.CalculateAllMetrics(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 88.0, snapshot.Financial.CollectionRate.Value)
	assert.Equal(t, model.TrendDown, snapshot.Financial.CollectionRate.Trend)
	change, ok := snapshot.Financial.CollectionRate.ChangePercentValue()
	require.True(t, ok)
	assert.Equal(t, -2.5, change)
	assert.Equal(t, 18.0, snapshot.Operational.NoShowRate.Value)

	hist, err := c.GetHistoricalData(ctx, time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, hist.Production, 1)
	assert.Equal(t, 4200.0, hist.Production[0].TotalProduction)
	require.Len(t, hist.Appointments, 1)

	report, err := c.GenerateBenchmarkReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 72.0, report.OverallScore)
	require.Len(t, report.Opportunities, 1)
	assert.Equal(t, 60000.0, report.Opportunities[0].PotentialImpact)

	prediction, err := c.PredictSchedulingOptimization(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 3.0, prediction.PredictedNoShows)

	forecast, err := c.ForecastFinancialMetrics(ctx, 7)
	require.NoError(t, err)
	require.Len(t, forecast, 2)
	assert.Equal(t, 12500.0, forecast[1].Production.Value)

	production, err := c.AppointmentProduction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 640.0, production)

	rate, err := c.RecentNoShowRate(ctx, day.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 17.5, rate)

	utilization, err := c.ChairUtilization(ctx)
	require.NoError(t, err)
	assert.Equal(t, 71.0, utilization)

	balance, err := c.OutstandingBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, balance)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"balance":500}`))
	}))
	defer server.Close()

	opts := testOptions(server.URL)
	opts.RetryMax = 3
	c := NewClient(opts, nil)

	balance, err := c.OutstandingBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "practice not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(testOptions(server.URL), nil)

	for i := 0; i < 3; i++ {
		_, err := c.ChairUtilization(context.Background())
		var status *StatusError
		require.ErrorAs(t, err, &status)
		assert.Equal(t, http.StatusNotFound, status.Code)
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State(), "client errors must not open the breaker")
}

func TestClientBreakerOpensOnServerFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(testOptions(server.URL), nil)
	ctx := context.Background()

	_, err := c.ChairUtilization(ctx)
	require.Error(t, err)
	_, err = c.ChairUtilization(ctx)
	require.Error(t, err)

	_, err = c.ChairUtilization(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "breaker_open", requestStatus(err))
}

func TestClientRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"utilization":`))
	}))
	defer server.Close()

	c := NewClient(testOptions(server.URL), nil)
	_, err := c.ChairUtilization(context.Background())
	assert.Error(t, err)
}
