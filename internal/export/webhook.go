// Package export delivers generated insights to an external webhook in
// signed batches.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/security"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

// ErrNotConfigured is returned by Flush when no webhook URL is set
var ErrNotConfigured = errors.New("webhook URL not configured")

// Config holds configuration for insight exporting
type Config struct {
	WebhookURL string
	APIKey     string

	// BatchSize insights are posted per request; reaching it triggers an export
	BatchSize int
	Interval  time.Duration

	// MaxPending bounds the queue while the webhook is failing; the oldest
	// insights are dropped beyond it
	MaxPending int

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultConfig returns exporter defaults for url
func DefaultConfig(url string) Config {
	return Config{
		WebhookURL:   url,
		BatchSize:    50,
		Interval:     30 * time.Second,
		MaxPending:   1000,
		Timeout:      10 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Batch is the payload posted to the webhook
type Batch struct {
	PracticeID string          `json:"practice_id"`
	ExportedAt time.Time       `json:"exported_at"`
	Count      int             `json:"count"`
	Insights   []model.Insight `json:"insights"`
}

// Status describes the exporter for diagnostics
type Status struct {
	Enabled    bool      `json:"enabled"`
	Pending    int       `json:"pending"`
	Exported   int       `json:"exported"`
	Dropped    int       `json:"dropped"`
	LastExport time.Time `json:"last_export,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Exporter queues insights and posts them to the webhook
type Exporter struct {
	cfg        Config
	practiceID string
	client     *retryablehttp.Client
	signer     *security.Signer
	metrics    *telemetry.Metrics
	now        func() time.Time

	mu      sync.Mutex
	pending []model.Insight
	status  Status

	// serializes exports so batches leave in order
	sendMu sync.Mutex
	flush  chan struct{}
}

// New creates an exporter. A nil signer posts unsigned batches; metrics may be nil.
func New(practiceID string, cfg Config, signer *security.Signer, metrics *telemetry.Metrics) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = cfg.BatchSize
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &Exporter{
		cfg:        cfg,
		practiceID: practiceID,
		client:     client,
		signer:     signer,
		metrics:    metrics,
		now:        time.Now,
		status:     Status{Enabled: cfg.WebhookURL != ""},
		flush:      make(chan struct{}, 1),
	}
}

// WithClock replaces the export timestamp clock
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Add queues insights for export
func (e *Exporter) Add(insights []model.Insight) {
	if e.cfg.WebhookURL == "" || len(insights) == 0 {
		return
	}

	e.mu.Lock()
	e.pending = append(e.pending, insights...)
	dropped := e.trimLocked()
	full := len(e.pending) >= e.cfg.BatchSize
	e.mu.Unlock()

	if dropped > 0 {
		e.metrics.InsightsExported("dropped", dropped)
		logrus.WithField("dropped", dropped).Warn("Insight export queue full, dropping oldest insights")
	}
	if full {
		select {
		case e.flush <- struct{}{}:
		default:
		}
	}
}

func (e *Exporter) trimLocked() int {
	over := len(e.pending) - e.cfg.MaxPending
	if over <= 0 {
		return 0
	}
	e.pending = append([]model.Insight(nil), e.pending[over:]...)
	e.status.Dropped += over
	return over
}

// Serve exports on every interval and whenever a full batch is queued.
// Pending insights get a last export attempt when ctx ends.
func (e *Exporter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
			if err := e.Flush(drainCtx); err != nil && !errors.Is(err, ErrNotConfigured) {
				logrus.WithError(err).Warn("Final insight export failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
		case <-e.flush:
		}

		if err := e.Flush(ctx); err != nil && !errors.Is(err, ErrNotConfigured) {
			logrus.WithError(err).Error("Failed to export insights")
		}
	}
}

// Flush posts every pending insight in batches. A failed batch goes back to
// the front of the queue.
func (e *Exporter) Flush(ctx context.Context) error {
	if e.cfg.WebhookURL == "" {
		return ErrNotConfigured
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	for {
		e.mu.Lock()
		n := min(len(e.pending), e.cfg.BatchSize)
		batch := append([]model.Insight(nil), e.pending[:n]...)
		e.pending = e.pending[n:]
		e.mu.Unlock()

		if len(batch) == 0 {
			return nil
		}

		if err := e.post(ctx, batch); err != nil {
			e.mu.Lock()
			e.pending = append(batch, e.pending...)
			e.trimLocked()
			e.status.LastError = err.Error()
			e.mu.Unlock()
			e.metrics.InsightsExported("error", len(batch))
			return err
		}

		e.mu.Lock()
		e.status.Exported += len(batch)
		e.status.LastExport = e.now().UTC()
		e.status.LastError = ""
		e.mu.Unlock()
		e.metrics.InsightsExported("ok", len(batch))
		logrus.WithField("count", len(batch)).Info("Exported insights to webhook")
	}
}

func (e *Exporter) post(ctx context.Context, insights []model.Insight) error {
	batch := Batch{
		PracticeID: e.practiceID,
		ExportedAt: e.now().UTC(),
		Count:      len(insights),
		Insights:   insights,
	}

	var payload any = batch
	if e.signer != nil {
		env, err := e.signer.Sign(batch)
		if err != nil {
			return fmt.Errorf("failed to sign batch: %w", err)
		}
		payload = env
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	if e.signer != nil {
		req.Header.Set("X-Insights-Signer", e.signer.Address())
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Status returns the current status of the exporter
func (e *Exporter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.status
	s.Pending = len(e.pending)
	return s
}

func (e *Exporter) String() string {
	return "insight-exporter"
}
