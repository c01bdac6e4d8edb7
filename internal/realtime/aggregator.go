// Package realtime maintains rolling time-windowed aggregates over metric events
// derived from operational row changes.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/aggregate"
	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/telemetry"
	"github.com/yourorg/practice-insights/internal/validation"
)

var (
	// ErrStopped is returned by every call made after StopRealtimeSubscriptions
	ErrStopped = errors.New("realtime aggregator stopped")

	// ErrUnknownRule is returned when no aggregation rule has the requested id
	ErrUnknownRule = errors.New("unknown aggregation rule")

	// ErrInvalidRule is returned by AddAggregationRule for rejected rules
	ErrInvalidRule = validation.ErrInvalidRule
)

// ChangeSource delivers row changes for one table to a handler.
// The returned cancel func blocks until no handler invocation is in flight.
type ChangeSource interface {
	Subscribe(ctx context.Context, table string, handler model.ChangeHandler) (cancel func(), err error)
}

// DataSource answers the lookups change handlers need beyond the changed row.
type DataSource interface {
	AppointmentProduction(ctx context.Context, appointmentID string) (float64, error)
	RecentNoShowRate(ctx context.Context, since time.Time) (float64, error)
	ChairUtilization(ctx context.Context) (float64, error)
	OutstandingBalance(ctx context.Context) (float64, error)
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

// Aggregator owns the metric cache and the aggregation rule registry.
type Aggregator struct {
	source  ChangeSource
	data    DataSource
	alerts  AlertSink
	metrics *telemetry.Metrics
	now     func() time.Time

	lookupTimeout     time.Duration
	noShowThreshold   float64
	noShowLookback    time.Duration
	idempotencyWindow time.Duration
	validationOpts    validation.ValidationOptions

	// mu guards everything below; external calls never happen while it is held
	mu        sync.Mutex
	state     lifecycle
	cache     map[string][]model.MetricEvent
	rules     map[string]model.AggregationRule
	ruleOrder []string
	relevance map[string]map[string]struct{}
	maxWindow time.Duration
	seen      map[string]time.Time
	paid      map[string]paidMark
	timers    map[string]context.CancelFunc
	runCtx    context.Context
	runCancel context.CancelFunc
	changeSub []func()

	subs *subscriberSet
	wg   sync.WaitGroup
}

type paidMark struct {
	amount float64
	at     time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithAlertSink sets where realtime alerts are raised.
func WithAlertSink(sink AlertSink) Option {
	return func(a *Aggregator) { a.alerts = sink }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLookupTimeout bounds each DataSource call made by a change handler.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.lookupTimeout = d }
}

// WithNoShowThreshold sets the recent no-show rate (percent) above which an alert is raised.
func WithNoShowThreshold(pct float64) Option {
	return func(a *Aggregator) { a.noShowThreshold = pct }
}

// WithIdempotencyWindow sets how long a handled change id is remembered.
func WithIdempotencyWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.idempotencyWindow = d }
}

// WithValidationOptions overrides how recorded events are validated.
func WithValidationOptions(opts validation.ValidationOptions) Option {
	return func(a *Aggregator) { a.validationOpts = opts }
}

// New creates an aggregator with the built-in rules registered.
// source may be nil when only RecordEvent ingestion is used.
func New(source ChangeSource, data DataSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:            source,
		data:              data,
		alerts:            LogAlertSink{},
		now:               time.Now,
		lookupTimeout:     5 * time.Second,
		noShowThreshold:   15,
		noShowLookback:    time.Hour,
		idempotencyWindow: 24 * time.Hour,
		validationOpts:    validation.DefaultValidationOptions(),
		cache:             make(map[string][]model.MetricEvent),
		rules:             make(map[string]model.AggregationRule),
		relevance:         make(map[string]map[string]struct{}),
		seen:              make(map[string]time.Time),
		paid:              make(map[string]paidMark),
		timers:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.subs = newSubscriberSet(a.metrics)

	relevance := defaultRelevance()
	for _, rule := range DefaultRules() {
		if err := a.AddAggregationRule(rule, relevance[rule.MetricID]...); err != nil {
			panic(fmt.Sprintf("built-in aggregation rule %s: %v", rule.MetricID, err))
		}
	}
	return a
}

// AddAggregationRule registers or replaces a rule. sources lists the raw metric
// names the rule folds; it may be omitted when replacing a rule that already has them.
// If the aggregator is running the rule's refresh timer is (re)started.
func (a *Aggregator) AddAggregationRule(rule model.AggregationRule, sources ...string) error {
	if err := validation.ValidateRule(rule); err != nil {
		return err
	}
	for _, src := range sources {
		if src == rule.MetricID {
			return fmt.Errorf("%w %q: rule cannot fold its own output", ErrInvalidRule, rule.MetricID)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateStopped {
		return ErrStopped
	}

	_, exists := a.rules[rule.MetricID]
	if len(sources) == 0 && !exists {
		return fmt.Errorf("%w %q: no source metrics", ErrInvalidRule, rule.MetricID)
	}

	if !exists {
		a.ruleOrder = append(a.ruleOrder, rule.MetricID)
	}
	a.rules[rule.MetricID] = rule
	if len(sources) > 0 {
		set := make(map[string]struct{}, len(sources))
		for _, src := range sources {
			set[src] = struct{}{}
		}
		a.relevance[rule.MetricID] = set
	}
	a.recomputeMaxWindowLocked()

	if a.state == stateRunning {
		a.startTimerLocked(rule)
	}
	return nil
}

// Rules returns the registered rules in registration order.
func (a *Aggregator) Rules() []model.AggregationRule {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.AggregationRule, 0, len(a.ruleOrder))
	for _, id := range a.ruleOrder {
		out = append(out, a.rules[id])
	}
	return out
}

// Sources returns the raw metric names folded by a rule.
func (a *Aggregator) Sources(ruleID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.relevance[ruleID]))
	for name := range a.relevance[ruleID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (a *Aggregator) recomputeMaxWindowLocked() {
	a.maxWindow = 0
	for _, r := range a.rules {
		if w := r.Window(); w > a.maxWindow {
			a.maxWindow = w
		}
	}
}

// RecordEvent appends an event to its cache key, prunes entries older than the
// widest rule window and notifies subscribers of the cache key and of the event name.
func (a *Aggregator) RecordEvent(event model.MetricEvent) error {
	_, err := a.record(event, false)
	return err
}

// record stores the event. With once set, an event whose id was already
// recorded inside the idempotency window is dropped and false is returned.
func (a *Aggregator) record(event model.MetricEvent, once bool) (bool, error) {
	now := a.now()
	if err := validation.ValidateEvent(event, now, a.validationOpts); err != nil {
		a.metrics.EventDropped("invalid")
		return false, err
	}

	a.mu.Lock()
	if a.state == stateStopped {
		a.mu.Unlock()
		a.metrics.EventDropped("stopped")
		return false, ErrStopped
	}
	if once && !a.markSeenLocked(event.ID, now) {
		a.mu.Unlock()
		a.metrics.EventDropped("duplicate")
		logrus.WithFields(logrus.Fields{
			"id":     event.ID,
			"metric": event.Name,
		}).Debug("Dropped duplicate metric event")
		return false, nil
	}

	key := a.storeLocked(event, now)
	a.mu.Unlock()

	a.metrics.EventIngested(string(event.Category), event.Name)
	a.subs.notify(event, key, event.Name)
	return true, nil
}

// storeLocked appends the event to its cache key and prunes entries older than
// the widest rule window.
func (a *Aggregator) storeLocked(event model.MetricEvent, now time.Time) string {
	key := event.CacheKey()
	entries := append(a.cache[key], event)
	if a.maxWindow > 0 {
		cutoff := now.Add(-a.maxWindow)
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		delete(a.cache, key)
	} else {
		a.cache[key] = entries
	}
	return key
}

func (a *Aggregator) markSeenLocked(id string, now time.Time) bool {
	for k, at := range a.seen {
		if now.Sub(at) > a.idempotencyWindow {
			delete(a.seen, k)
		}
	}
	if _, dup := a.seen[id]; dup {
		return false
	}
	a.seen[id] = now
	return true
}

// Aggregate folds every in-window event relevant to the rule and records the
// result back into the cache as an event named after the rule.
// The boolean is false when the rule is unknown or no events match.
func (a *Aggregator) Aggregate(ruleID string) (model.MetricEvent, bool) {
	event, ok, err := a.aggregate(ruleID, "on_demand")
	if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, ErrUnknownRule) {
		logrus.WithFields(logrus.Fields{
			"rule":  ruleID,
			"error": err,
		}).Warn("Aggregation failed")
	}
	return event, ok
}

// aggregate reads the clock, folds and stores the result in one critical
// section, so results of concurrent runs land in timestamp order.
func (a *Aggregator) aggregate(ruleID, trigger string) (model.MetricEvent, bool, error) {
	a.mu.Lock()
	now := a.now()
	if a.state == stateStopped {
		a.mu.Unlock()
		return model.MetricEvent{}, false, ErrStopped
	}
	rule, ok := a.rules[ruleID]
	if !ok {
		a.mu.Unlock()
		return model.MetricEvent{}, false, fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}

	keys := make([]string, 0, len(a.cache))
	for k := range a.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cutoff := now.Add(-rule.Window())
	var matched []model.MetricEvent
	for _, k := range keys {
		matched = append(matched, aggregate.InWindow(a.cache[k], a.relevance[ruleID], cutoff)...)
	}

	value, ok, err := aggregate.Apply(rule.AggregationType, matched)
	if err != nil || !ok {
		a.mu.Unlock()
		return model.MetricEvent{}, false, err
	}

	result := model.NewMetricEvent(ruleID, ruleID, value, aggregateUnit(rule.AggregationType, matched), CategoryForMetric(ruleID), now)
	if err := validation.ValidateEvent(result, now, a.validationOpts); err != nil {
		a.mu.Unlock()
		a.metrics.EventDropped("invalid")
		return model.MetricEvent{}, false, err
	}
	key := a.storeLocked(result, now)
	a.mu.Unlock()

	a.metrics.EventIngested(string(result.Category), result.Name)
	a.subs.notify(result, key, result.Name)
	a.metrics.AggregateComputed(ruleID, trigger, value)
	return result, true, nil
}

// aggregateUnit is "count" for counts and the source unit otherwise.
func aggregateUnit(aggType model.AggregationType, matched []model.MetricEvent) string {
	if aggType == model.AggregationCount {
		return "count"
	}
	return matched[len(matched)-1].Unit
}

// recompute runs the named rules after a handler recorded a new event.
func (a *Aggregator) recompute(ruleIDs ...string) {
	for _, id := range ruleIDs {
		if _, _, err := a.aggregate(id, "event"); err != nil && !errors.Is(err, ErrStopped) {
			logrus.WithFields(logrus.Fields{
				"rule":  id,
				"error": err,
			}).Warn("Recompute failed")
		}
	}
}

// GetLatestMetric returns the most recent cached value for a cache key
// ("financial_daily_production") or a rule id ("daily_production"). For a rule
// with nothing cached the aggregate is computed on demand.
func (a *Aggregator) GetLatestMetric(ctx context.Context, metricID string) (model.MetricEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.MetricEvent{}, false, err
	}

	a.mu.Lock()
	if a.state == stateStopped {
		a.mu.Unlock()
		return model.MetricEvent{}, false, ErrStopped
	}
	entries := a.lookupLocked(metricID)
	_, isRule := a.rules[metricID]
	var latest model.MetricEvent
	found := len(entries) > 0
	if found {
		latest = entries[len(entries)-1]
	}
	a.mu.Unlock()

	if found {
		return latest, true, nil
	}
	if !isRule {
		return model.MetricEvent{}, false, nil
	}

	event, ok, err := a.aggregate(metricID, "on_demand")
	if err != nil {
		return model.MetricEvent{}, false, err
	}
	return event, ok, nil
}

// GetMetricHistory returns the cached points for a cache key or rule id that are
// newer than the given number of minutes, oldest first.
func (a *Aggregator) GetMetricHistory(metricID string, minutes int) ([]model.MetricEvent, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("minutes must be positive, got %d", minutes)
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateStopped {
		return nil, ErrStopped
	}

	cutoff := now.Add(-time.Duration(minutes) * time.Minute)
	entries := a.lookupLocked(metricID)
	out := make([]model.MetricEvent, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Aggregator) lookupLocked(metricID string) []model.MetricEvent {
	if entries, ok := a.cache[metricID]; ok {
		return entries
	}
	if _, ok := a.rules[metricID]; ok {
		return a.cache[model.CacheKey(CategoryForMetric(metricID), metricID)]
	}
	return nil
}

// SubscribeToMetric registers a callback for a cache key or a rule id. Any
// number of callbacks may share an id. After stop an inert subscription is returned.
func (a *Aggregator) SubscribeToMetric(metricID string, cb MetricCallback) Subscription {
	a.mu.Lock()
	stopped := a.state == stateStopped
	a.mu.Unlock()

	if stopped || cb == nil {
		return Subscription{}
	}
	return a.subs.add(metricID, cb)
}

// UnsubscribeFromMetric removes every callback registered under metricID.
func (a *Aggregator) UnsubscribeFromMetric(metricID string) {
	a.subs.removeAll(metricID)
}

// StartRealtimeSubscriptions subscribes to the watched tables and starts one
// refresh timer per rule. Calling it on a running aggregator is a no-op.
func (a *Aggregator) StartRealtimeSubscriptions(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case stateStopped:
		a.mu.Unlock()
		return ErrStopped
	case stateRunning:
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	var cancels []func()
	if a.source != nil {
		for _, table := range model.WatchedTables {
			unsub, err := a.source.Subscribe(runCtx, table, a.HandleChange)
			if err != nil {
				for _, c := range cancels {
					c()
				}
				cancel()
				return fmt.Errorf("subscribe to %s changes: %w", table, err)
			}
			cancels = append(cancels, unsub)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateIdle {
		for _, c := range cancels {
			c()
		}
		cancel()
		if a.state == stateStopped {
			return ErrStopped
		}
		return nil
	}

	a.state = stateRunning
	a.runCtx = runCtx
	a.runCancel = cancel
	a.changeSub = cancels
	for _, id := range a.ruleOrder {
		a.startTimerLocked(a.rules[id])
	}

	logrus.WithFields(logrus.Fields{
		"tables": len(cancels),
		"rules":  len(a.ruleOrder),
	}).Info("Realtime aggregation started")
	return nil
}

func (a *Aggregator) startTimerLocked(rule model.AggregationRule) {
	if cancel, ok := a.timers[rule.MetricID]; ok {
		cancel()
	}

	ctx, cancel := context.WithCancel(a.runCtx)
	a.timers[rule.MetricID] = cancel

	a.wg.Add(1)
	go func(id string, every time.Duration) {
		defer a.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := a.aggregate(id, "timer"); err != nil && !errors.Is(err, ErrStopped) {
					logrus.WithFields(logrus.Fields{
						"rule":  id,
						"error": err,
					}).Warn("Timed aggregation failed")
				}
			}
		}
	}(rule.MetricID, rule.RefreshInterval())
}

// StopRealtimeSubscriptions cancels change subscriptions, stops every timer and
// clears the cache and all callbacks. The aggregator cannot be restarted.
func (a *Aggregator) StopRealtimeSubscriptions() {
	a.mu.Lock()
	if a.state == stateStopped {
		a.mu.Unlock()
		return
	}
	a.state = stateStopped
	changeSub := a.changeSub
	a.changeSub = nil
	timers := a.timers
	a.timers = make(map[string]context.CancelFunc)
	runCancel := a.runCancel
	a.cache = make(map[string][]model.MetricEvent)
	a.seen = make(map[string]time.Time)
	a.paid = make(map[string]paidMark)
	a.mu.Unlock()

	for _, unsub := range changeSub {
		unsub()
	}
	for _, cancel := range timers {
		cancel()
	}
	if runCancel != nil {
		runCancel()
	}
	a.wg.Wait()
	a.subs.clear()

	logrus.Info("Realtime aggregation stopped")
}

// lookupContext bounds a DataSource call.
func (a *Aggregator) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.lookupTimeout)
}
