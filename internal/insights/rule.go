package insights

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

var (
	// ErrDuplicateRule is returned when a rule id is registered twice
	ErrDuplicateRule = errors.New("duplicate insight rule")
	// ErrUnknownRule is returned for rule ids that were never registered
	ErrUnknownRule = errors.New("unknown insight rule")
	// ErrInvalidRule is returned for rules that cannot be registered
	ErrInvalidRule = errors.New("invalid insight rule")
)

// Frequency is the cadence a rule declares for itself.
type Frequency string

// Rule frequencies
const (
	Realtime Frequency = "realtime"
	Hourly   Frequency = "hourly"
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
)

// Interval returns the minimum time between two evaluations of a rule with this
// frequency. Realtime and unknown frequencies return zero.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Rule is one declarative insight rule. Condition must be a pure predicate;
// Generate is only called when Condition holds and may still return nil.
type Rule interface {
	ID() string
	Name() string
	Frequency() Frequency
	Enabled() bool
	Condition(snapshot model.MetricsSnapshot, hist model.HistoricalData) bool
	Generate(snapshot model.MetricsSnapshot, hist model.HistoricalData, now time.Time) *model.Insight
}

// definition carries the static metadata shared by the built-in rules.
type definition struct {
	id        string
	name      string
	frequency Frequency
}

func (d definition) ID() string           { return d.id }
func (d definition) Name() string         { return d.name }
func (d definition) Frequency() Frequency { return d.frequency }
func (d definition) Enabled() bool        { return true }

type registered struct {
	rule    Rule
	enabled bool
}

// Registry holds insight rules in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	rules map[string]*registered
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*registered)}
}

// Register adds a rule. Ids must be non-empty and unique.
func (r *Registry) Register(rule Rule) error {
	if rule == nil || rule.ID() == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID())
	}
	r.rules[rule.ID()] = &registered{rule: rule, enabled: rule.Enabled()}
	r.order = append(r.order, rule.ID())
	return nil
}

// SetEnabled switches a rule on or off.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	entry.enabled = enabled
	return nil
}

// IsEnabled reports whether the rule is registered and enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rules[id]
	return ok && entry.enabled
}

// Rules returns every registered rule in registration order.
func (r *Registry) Rules() []Rule {
	return r.collect(false)
}

// EnabledRules returns the enabled rules in registration order.
func (r *Registry) EnabledRules() []Rule {
	return r.collect(true)
}

func (r *Registry) collect(onlyEnabled bool) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		entry := r.rules[id]
		if onlyEnabled && !entry.enabled {
			continue
		}
		out = append(out, entry.rule)
	}
	return out
}
