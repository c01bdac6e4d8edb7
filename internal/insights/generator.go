// Package insights evaluates business rules against metric snapshots and turns
// them into ranked, deduplicated insights.
package insights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/otel"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

// Generator defaults
const (
	DefaultPollInterval    = 60 * time.Second
	DefaultDedupWindow     = 24 * time.Hour
	DefaultHistoryLookback = 30 * 24 * time.Hour
	DefaultProviderTimeout = 10 * time.Second
	DefaultRuleTimeout     = 2 * time.Second
	DefaultHistoryDays     = 30
)

// Generator runs the insight rules and owns the dedup state.
type Generator struct {
	practiceID string
	params     Params
	registry   *Registry
	deps       Deps
	metrics    *telemetry.Metrics
	now        func() time.Time

	providerTimeout time.Duration
	ruleTimeout     time.Duration
	pollInterval    time.Duration
	dedupWindow     time.Duration
	historyLookback time.Duration
	honorFrequency  bool

	mu        sync.Mutex
	generated map[string]model.Insight
	dismissed map[model.DedupKey]time.Time
	lastRun   map[string]time.Time
}

// NewGenerator creates a generator with the built-in rules registered.
func NewGenerator(practiceID string, deps Deps, params Params) *Generator {
	g := &Generator{
		practiceID:      practiceID,
		params:          params,
		registry:        NewRegistry(),
		deps:            deps,
		now:             time.Now,
		providerTimeout: DefaultProviderTimeout,
		ruleTimeout:     DefaultRuleTimeout,
		pollInterval:    DefaultPollInterval,
		dedupWindow:     DefaultDedupWindow,
		historyLookback: DefaultHistoryLookback,
		generated:       make(map[string]model.Insight),
		dismissed:       make(map[model.DedupKey]time.Time),
		lastRun:         make(map[string]time.Time),
	}

	for _, rule := range BuiltinRules(params) {
		if err := g.registry.Register(rule); err != nil {
			panic(err)
		}
	}
	for _, id := range params.DisabledRules {
		if err := g.registry.SetEnabled(id, false); err != nil {
			logrus.WithField("rule", id).Warn("Ignoring unknown rule in disabled list")
		}
	}
	return g
}

// WithMetrics sets the Prometheus collectors
func (g *Generator) WithMetrics(m *telemetry.Metrics) *Generator {
	g.metrics = m
	return g
}

// WithClock replaces the time source
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithProviderTimeout bounds each provider call
func (g *Generator) WithProviderTimeout(d time.Duration) *Generator {
	g.providerTimeout = d
	return g
}

// WithRuleTimeout bounds each rule evaluation
func (g *Generator) WithRuleTimeout(d time.Duration) *Generator {
	g.ruleTimeout = d
	return g
}

// WithPollInterval sets the SubscribeToInsights cadence
func (g *Generator) WithPollInterval(d time.Duration) *Generator {
	g.pollInterval = d
	return g
}

// WithDedupWindow sets how long an insight suppresses its duplicates
func (g *Generator) WithDedupWindow(d time.Duration) *Generator {
	g.dedupWindow = d
	return g
}

// WithHistoryLookback sets how much history the rules receive
func (g *Generator) WithHistoryLookback(d time.Duration) *Generator {
	g.historyLookback = d
	return g
}

// WithHonorFrequency makes the generator skip rules whose declared frequency
// has not elapsed since their last evaluation.
func (g *Generator) WithHonorFrequency(honor bool) *Generator {
	g.honorFrequency = honor
	return g
}

// Registry returns the rule registry
func (g *Generator) Registry() *Registry {
	return g.registry
}

// PracticeID returns the practice the generator reports on
func (g *Generator) PracticeID() string {
	return g.practiceID
}

type cycleInputs struct {
	snapshot   *model.MetricsSnapshot
	history    model.HistoricalData
	report     *model.BenchmarkReport
	prediction *model.SchedulingPrediction
	forecast   []model.FinancialForecast
}

// GenerateInsights runs one evaluation cycle and returns the new insights,
// highest priority first. Provider failures shrink the cycle instead of failing it.
func (g *Generator) GenerateInsights(ctx context.Context) []model.Insight {
	started := time.Now()
	ctx, span := otel.Tracer().Start(ctx, "insights.generate")
	defer span.End()

	now := g.now()
	in := g.pull(ctx, now)

	var candidates []model.Insight
	if in.snapshot != nil {
		if snapshot, ok := g.guard(*in.snapshot); ok {
			candidates = append(candidates, g.evaluateRules(ctx, snapshot, in.history, now)...)
		}
	}
	if in.prediction != nil {
		if insight := noShowForecastInsight(g.params, *in.prediction, now.AddDate(0, 0, 1), now); insight != nil {
			candidates = append(candidates, *insight)
		}
	}
	if insight := productionForecastInsight(in.forecast, now); insight != nil {
		candidates = append(candidates, *insight)
	}
	if in.report != nil {
		candidates = append(candidates, benchmarkInsights(g.params, *in.report, now)...)
	}

	fresh := g.admit(candidates, now)
	sortInsights(fresh)
	g.archive(ctx, fresh)

	for _, insight := range fresh {
		g.metrics.InsightEmitted(string(insight.Type), string(insight.Priority))
	}
	g.metrics.InsightCycle(time.Since(started).Seconds())
	span.SetAttributes(
		attribute.String("practice.id", g.practiceID),
		attribute.Int("insights.candidates", len(candidates)),
		attribute.Int("insights.emitted", len(fresh)),
	)

	logrus.WithFields(logrus.Fields{
		"practice":   g.practiceID,
		"candidates": len(candidates),
		"emitted":    len(fresh),
	}).Debug("Insight cycle complete")
	return fresh
}

func (g *Generator) pull(ctx context.Context, now time.Time) cycleInputs {
	var (
		in cycleInputs
		eg errgroup.Group
	)

	if p := g.deps.Snapshots; p != nil {
		eg.Go(func() error {
			if s, ok := call(ctx, g, "snapshot", func(ctx context.Context) (model.MetricsSnapshot, error) {
				return p.CalculateAllMetrics(ctx, now)
			}); ok {
				in.snapshot = &s
			}
			return nil
		})
	}
	if p := g.deps.History; p != nil {
		eg.Go(func() error {
			in.history, _ = call(ctx, g, "history", func(ctx context.Context) (model.HistoricalData, error) {
				return p.GetHistoricalData(ctx, now.Add(-g.historyLookback))
			})
			return nil
		})
	}
	if p := g.deps.Benchmarks; p != nil {
		eg.Go(func() error {
			if r, ok := call(ctx, g, "benchmark", p.GenerateBenchmarkReport); ok {
				in.report = &r
			}
			return nil
		})
	}
	if p := g.deps.Forecasts; p != nil {
		eg.Go(func() error {
			if s, ok := call(ctx, g, "scheduling_forecast", func(ctx context.Context) (model.SchedulingPrediction, error) {
				return p.PredictSchedulingOptimization(ctx, now.AddDate(0, 0, 1))
			}); ok {
				in.prediction = &s
			}
			return nil
		})
		eg.Go(func() error {
			in.forecast, _ = call(ctx, g, "financial_forecast", func(ctx context.Context) ([]model.FinancialForecast, error) {
				return p.ForecastFinancialMetrics(ctx, g.params.ForecastDays)
			})
			return nil
		})
	}

	_ = eg.Wait()
	return in
}

// call runs one provider request under the provider timeout. Failures are
// logged and counted; the zero value is returned with ok=false.
func call[T any](ctx context.Context, g *Generator, provider string, fn func(context.Context) (T, error)) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.providerTimeout)
	defer cancel()
	ctx, span := otel.Tracer().Start(ctx, "insights.provider."+provider)
	defer span.End()

	v, err := fn(ctx)
	if err != nil {
		otel.RecordError(ctx, err)
		g.metrics.ProviderError(provider)
		logrus.WithFields(logrus.Fields{
			"provider": provider,
			"error":    err,
		}).Warn("Provider failed, continuing without it")
		var zero T
		return zero, false
	}
	return v, true
}

// guard passes the snapshot through the sanity check. A rejected snapshot is
// replaced by the last accepted one, if any.
func (g *Generator) guard(snapshot model.MetricsSnapshot) (model.MetricsSnapshot, bool) {
	if g.deps.Guard == nil {
		return snapshot, true
	}
	err := g.deps.Guard.Check(snapshot)
	if err == nil {
		return snapshot, true
	}

	last, ok := g.deps.Guard.LastGood()
	logrus.WithFields(logrus.Fields{
		"error":    err,
		"fallback": ok,
	}).Warn("Snapshot rejected by circuit breaker")
	return last, ok
}

func (g *Generator) evaluateRules(ctx context.Context, snapshot model.MetricsSnapshot, hist model.HistoricalData, now time.Time) []model.Insight {
	var out []model.Insight
	for _, rule := range g.registry.EnabledRules() {
		if g.honorFrequency && !g.due(rule, now) {
			continue
		}

		insight, err := g.evaluate(ctx, rule, snapshot, hist, now)
		if err != nil {
			g.metrics.RuleError(rule.ID())
			logrus.WithFields(logrus.Fields{
				"rule":  rule.ID(),
				"error": err,
			}).Error("Insight rule failed")
			continue
		}
		if insight != nil {
			out = append(out, *insight)
		}
	}
	return out
}

var errRuleTimeout = errors.New("rule evaluation timed out")

// evaluate runs one rule in isolation. A panicking or hanging rule yields an
// error and leaves the remaining rules unaffected.
func (g *Generator) evaluate(ctx context.Context, rule Rule, snapshot model.MetricsSnapshot, hist model.HistoricalData, now time.Time) (*model.Insight, error) {
	type result struct {
		insight *model.Insight
		err     error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("rule panicked: %v", r)}
			}
		}()
		if !rule.Condition(snapshot, hist) {
			done <- result{}
			return
		}
		done <- result{insight: rule.Generate(snapshot, hist, now)}
	}()

	timer := time.NewTimer(g.ruleTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.insight, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", errRuleTimeout, g.ruleTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Generator) due(rule Rule, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastRun[rule.ID()]; ok && now.Sub(last) < rule.Frequency().Interval() {
		return false
	}
	g.lastRun[rule.ID()] = now
	return true
}

// admit drops duplicates, assigns ids and records the survivors in the dedup map.
func (g *Generator) admit(candidates []model.Insight, now time.Time) []model.Insight {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked(now)

	fresh := make([]model.Insight, 0, len(candidates))
	for _, insight := range candidates {
		if g.isDuplicateLocked(insight, now) {
			continue
		}
		insight.ID = uuid.NewString()
		g.generated[insight.ID] = insight.Clone()
		fresh = append(fresh, insight.Clone())
	}
	return fresh
}

func (g *Generator) isDuplicateLocked(insight model.Insight, now time.Time) bool {
	key := insight.DedupKey()
	if at, ok := g.dismissed[key]; ok && now.Sub(at) < g.dedupWindow {
		return true
	}
	for _, existing := range g.generated {
		if existing.DedupKey() == key && now.Sub(existing.Timestamp) < g.dedupWindow {
			return true
		}
	}
	return false
}

func (g *Generator) evictLocked(now time.Time) {
	for id, insight := range g.generated {
		if now.Sub(insight.Timestamp) >= g.dedupWindow {
			delete(g.generated, id)
		}
	}
	for key, at := range g.dismissed {
		if now.Sub(at) >= g.dedupWindow {
			delete(g.dismissed, key)
		}
	}
}

func (g *Generator) archive(ctx context.Context, insights []model.Insight) {
	if g.deps.Archive == nil || len(insights) == 0 {
		return
	}
	if err := g.deps.Archive.AppendInsights(ctx, g.practiceID, insights); err != nil {
		otel.RecordError(ctx, err)
		logrus.WithFields(logrus.Fields{
			"practice": g.practiceID,
			"count":    len(insights),
			"error":    err,
		}).Error("Failed to archive insights")
	}
}

// sortInsights orders by priority, then newest first. Equal keys keep their order.
func sortInsights(insights []model.Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return a.Timestamp.After(b.Timestamp)
	})
}

// Active returns the insights generated within the dedup window that were not
// dismissed, ranked like GenerateInsights.
func (g *Generator) Active() []model.Insight {
	now := g.now()

	g.mu.Lock()
	g.evictLocked(now)
	out := make([]model.Insight, 0, len(g.generated))
	for _, insight := range g.generated {
		out = append(out, insight.Clone())
	}
	g.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	sortInsights(out)
	return out
}

// DismissInsight forgets the insight and records the dismissal. Its
// (type, category, title) triple stays suppressed for the dedup window.
func (g *Generator) DismissInsight(ctx context.Context, insightID string) error {
	if insightID == "" {
		return errors.New("dismiss insight: empty id")
	}
	now := g.now()

	g.mu.Lock()
	if insight, ok := g.generated[insightID]; ok {
		delete(g.generated, insightID)
		g.dismissed[insight.DedupKey()] = now
	}
	g.mu.Unlock()

	if g.deps.Dismissals == nil {
		return nil
	}
	if err := g.deps.Dismissals.RecordDismissal(ctx, g.practiceID, insightID, now); err != nil {
		return fmt.Errorf("record dismissal of %s: %w", insightID, err)
	}

	logrus.WithFields(logrus.Fields{
		"practice": g.practiceID,
		"insight":  insightID,
	}).Info("Insight dismissed")
	return nil
}

// SubscribeToInsights polls GenerateInsights every poll interval and hands each
// result to cb. The returned func stops the loop and waits for it to exit; it
// must not be called from inside cb.
func (g *Generator) SubscribeToInsights(ctx context.Context, cb func([]model.Insight)) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				insights := g.GenerateInsights(ctx)
				if ctx.Err() != nil {
					return
				}
				g.deliver(cb, insights)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (g *Generator) deliver(cb func([]model.Insight), insights []model.Insight) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.CallbackPanic("insights")
			logrus.WithField("panic", r).Error("Insight subscriber panicked")
		}
	}()
	cb(insights)
}

// GetInsightHistory returns archived insights from the last days, newest first.
// Non-positive days default to 30.
func (g *Generator) GetInsightHistory(ctx context.Context, days int) ([]model.Insight, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	if g.deps.Archive == nil {
		return nil, nil
	}

	since := g.now().AddDate(0, 0, -days)
	history, err := g.deps.Archive.ListInsights(ctx, g.practiceID, since)
	if err != nil {
		return nil, fmt.Errorf("list insight history: %w", err)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})
	return history, nil
}
