// Package api exposes realtime metrics and insights over HTTP and websockets.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/practice-insights/internal/aggregate"
	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/realtime"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

const (
	defaultHistoryMinutes = 60
	maxHistoryMinutes     = 7 * 24 * 60
	defaultHistoryDays    = 30
	maxHistoryDays        = 365
)

// MetricSource serves realtime metrics
type MetricSource interface {
	GetLatestMetric(ctx context.Context, metricID string) (model.MetricEvent, bool, error)
	GetMetricHistory(metricID string, minutes int) ([]model.MetricEvent, error)
}

// InsightSource serves generated insights
type InsightSource interface {
	PracticeID() string
	Active() []model.Insight
	GetInsightHistory(ctx context.Context, days int) ([]model.Insight, error)
	DismissInsight(ctx context.Context, insightID string) error
}

// Options configures the API server
type Options struct {
	Addr string

	// RateLimitRPS of zero disables rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Metrics  *telemetry.Metrics

	// Status adds component details to /status
	Status func() map[string]any
}

// Server is the HTTP API
type Server struct {
	opts     Options
	metrics  MetricSource
	insights InsightSource
	hub      *Hub
	limiter  *rate.Limiter
	handler  http.Handler
}

// NewServer creates the API server. hub may be nil to disable /ws.
func NewServer(metrics MetricSource, insights InsightSource, hub *Hub, opts Options) *Server {
	s := &Server{
		opts:     opts,
		metrics:  metrics,
		insights: insights,
		hub:      hub,
	}
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = int(opts.RateLimitRPS)
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), max(burst, 1))
	}
	s.handler = s.routes()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	gatherer := s.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/metrics/{id}", s.handleLatestMetric)
		r.Get("/metrics/{id}/history", s.handleMetricHistory)

		r.Get("/insights", s.handleInsights)
		r.Get("/insights/history", s.handleInsightHistory)
		r.Post("/insights/{id}/dismiss", s.handleDismiss)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	return r
}

// instrument counts requests by route pattern and status
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.opts.Metrics.Request(route, strconv.Itoa(status))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"practice_id":     s.insights.PracticeID(),
		"uptime":          time.Since(startTime).String(),
		"active_insights": len(s.insights.Active()),
	}
	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}
	if s.opts.Status != nil {
		for k, v := range s.opts.Status() {
			status[k] = v
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLatestMetric(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, ok, err := s.metrics.GetLatestMetric(r.Context(), id)
	if err != nil {
		s.metricError(w, err)
		return
	}
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "no value for metric "+id)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// MetricSummary condenses a metric history
type MetricSummary struct {
	Count   int     `json:"count"`
	Latest  float64 `json:"latest"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
}

// MetricHistory is the response of the history endpoint
type MetricHistory struct {
	MetricID string              `json:"metric_id"`
	Minutes  int                 `json:"minutes"`
	Points   []model.MetricEvent `json:"points"`
	Summary  *MetricSummary      `json:"summary,omitempty"`
}

func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	minutes, err := intParam(r, "minutes", defaultHistoryMinutes, maxHistoryMinutes)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.metrics.GetMetricHistory(id, minutes)
	if err != nil {
		s.metricError(w, err)
		return
	}

	resp := MetricHistory{MetricID: id, Minutes: minutes, Points: points}
	if len(points) > 0 {
		resp.Summary = &MetricSummary{
			Count:   len(points),
			Latest:  aggregate.Last(points).Value,
			Min:     aggregate.Min(points),
			Max:     aggregate.Max(points),
			Average: aggregate.Average(points),
			Median:  aggregate.Median(points),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"practice_id": s.insights.PracticeID(),
		"insights":    nonNil(s.insights.Active()),
	})
}

func (s *Server) handleInsightHistory(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", defaultHistoryDays, maxHistoryDays)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := s.insights.GetInsightHistory(r.Context(), days)
	if err != nil {
		logrus.WithError(err).Error("Failed to load insight history")
		s.errorResponse(w, http.StatusInternalServerError, "failed to load insight history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"practice_id": s.insights.PracticeID(),
		"days":        days,
		"insights":    nonNil(history),
	})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.insights.DismissInsight(r.Context(), id); err != nil {
		logrus.WithError(err).WithField("insight", id).Error("Failed to dismiss insight")
		s.errorResponse(w, http.StatusInternalServerError, "failed to dismiss insight")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) metricError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, realtime.ErrStopped):
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.errorResponse(w, http.StatusGatewayTimeout, err.Error())
	default:
		logrus.WithError(err).Error("Metric lookup failed")
		s.errorResponse(w, http.StatusInternalServerError, "metric lookup failed")
	}
}

// errorResponse writes an error payload
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, msg string) {
	logrus.WithField("status", statusCode).Debug(msg)
	writeJSON(w, statusCode, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

func intParam(r *http.Request, name string, def, limit int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return min(n, limit), nil
}

func nonNil(insights []model.Insight) []model.Insight {
	if insights == nil {
		return []model.Insight{}
	}
	return insights
}

// Serve listens on the configured address until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", s.opts.Addr).Info("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP API shutdown failed")
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-api"
}
