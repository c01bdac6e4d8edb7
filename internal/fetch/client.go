// Package fetch provides the HTTP client for the practice analytics API. It
// backs the insight providers and the realtime aggregator's data lookups.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yourorg/practice-insights/internal/insights"
	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/realtime"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

var (
	_ insights.SnapshotProvider   = (*Client)(nil)
	_ insights.HistoricalProvider = (*Client)(nil)
	_ insights.BenchmarkProvider  = (*Client)(nil)
	_ insights.ForecastProvider   = (*Client)(nil)
	_ realtime.DataSource         = (*Client)(nil)
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analytics API error: status %d, body: %s", e.Code, e.Body)
}

// Options configures the analytics client
type Options struct {
	BaseURL    string
	APIKey     string
	PracticeID string

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultOptions returns the client defaults for baseURL
func DefaultOptions(baseURL, apiKey, practiceID string) Options {
	return Options{
		BaseURL:         baseURL,
		APIKey:          apiKey,
		PracticeID:      practiceID,
		Timeout:         10 * time.Second,
		RetryMax:        3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    3 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Client talks to the practice analytics API
type Client struct {
	baseURL    string
	apiKey     string
	practiceID string
	httpClient *retryablehttp.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	metrics    *telemetry.Metrics
}

// NewClient creates an analytics client. metrics may be nil.
func NewClient(opts Options, metrics *telemetry.Metrics) *Client {
	c := &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		practiceID: opts.PracticeID,
		httpClient: newRetryClient(opts),
		metrics:    metrics,
	}

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "analytics",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var status *StatusError
			if errors.As(err, &status) {
				return status.Code < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState(name, int(to))
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Analytics circuit breaker changed state")
		},
	})
	return c
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(opts Options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.HTTPClient.Timeout = opts.Timeout
	c.Logger = nil
	return c
}

// get fetches path below the practice and decodes the JSON body into out
func (c *Client) get(ctx context.Context, provider, path string, query url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/v1/practices/%s/%s", c.baseURL, url.PathEscape(c.practiceID), path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	started := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint)
	})
	c.metrics.ProviderRequest(provider, requestStatus(err), time.Since(started).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: error decoding response: %w", provider, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	logrus.WithField("url", endpoint).Debug("Fetching from analytics API")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func requestStatus(err error) string {
	var status *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.As(err, &status):
		return strconv.Itoa(status.Code)
	}
	return "error"
}

// CalculateAllMetrics returns the dashboard snapshot for date
func (c *Client) CalculateAllMetrics(ctx context.Context, date time.Time) (model.MetricsSnapshot, error) {
	var snapshot model.MetricsSnapshot
	err := c.get(ctx, "snapshot", "metrics", url.Values{"date": {date.Format(time.DateOnly)}}, &snapshot)
	return snapshot, err
}

// GetHistoricalData returns production and appointment history since a point in time
func (c *Client) GetHistoricalData(ctx context.Context, since time.Time) (model.HistoricalData, error) {
	var hist model.HistoricalData
	err := c.get(ctx, "history", "history", url.Values{"since": {since.UTC().Format(time.RFC3339)}}, &hist)
	return hist, err
}

// GenerateBenchmarkReport returns the peer benchmark report
func (c *Client) GenerateBenchmarkReport(ctx context.Context) (model.BenchmarkReport, error) {
	var report model.BenchmarkReport
	err := c.get(ctx, "benchmark", "benchmarks", nil, &report)
	return report, err
}

// PredictSchedulingOptimization returns the scheduling forecast for date
func (c *Client) PredictSchedulingOptimization(ctx context.Context, date time.Time) (model.SchedulingPrediction, error) {
	var prediction model.SchedulingPrediction
	err := c.get(ctx, "scheduling_forecast", "forecast/scheduling", url.Values{"date": {date.Format(time.DateOnly)}}, &prediction)
	return prediction, err
}

// ForecastFinancialMetrics returns one forecast per day for the next days
func (c *Client) ForecastFinancialMetrics(ctx context.Context, days int) ([]model.FinancialForecast, error) {
	var forecast []model.FinancialForecast
	err := c.get(ctx, "financial_forecast", "forecast/financial", url.Values{"days": {strconv.Itoa(days)}}, &forecast)
	return forecast, err
}

// AppointmentProduction returns the production booked on a completed appointment
func (c *Client) AppointmentProduction(ctx context.Context, appointmentID string) (float64, error) {
	var resp struct {
		Production float64 `json:"production"`
	}
	err := c.get(ctx, "appointment_production", "appointments/"+url.PathEscape(appointmentID)+"/production", nil, &resp)
	return resp.Production, err
}

// RecentNoShowRate returns the no-show percentage of appointments since a point in time
func (c *Client) RecentNoShowRate(ctx context.Context, since time.Time) (float64, error) {
	var resp struct {
		Rate float64 `json:"rate"`
	}
	err := c.get(ctx, "no_show_rate", "no-show-rate", url.Values{"since": {since.UTC().Format(time.RFC3339)}}, &resp)
	return resp.Rate, err
}

// ChairUtilization returns the current chair utilization percentage
func (c *Client) ChairUtilization(ctx context.Context) (float64, error) {
	var resp struct {
		Utilization float64 `json:"utilization"`
	}
	err := c.get(ctx, "chair_utilization", "chair-utilization", nil, &resp)
	return resp.Utilization, err
}

// OutstandingBalance returns the practice's unpaid balance
func (c *Client) OutstandingBalance(ctx context.Context) (float64, error) {
	var resp struct {
		Balance float64 `json:"balance"`
	}
	err := c.get(ctx, "outstanding_balance", "outstanding-balance", nil, &resp)
	return resp.Balance, err
}
