// Package circuitbreaker guards the insight engine against implausible metric
// snapshots. While tripped, callers fall back to the last snapshot that passed.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
)

// ErrOpen is returned by Check while the breaker is open
var ErrOpen = errors.New("circuit breaker open: snapshot protection engaged")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, snapshots are rejected
	StateHalfOpen              // Testing if the source has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker checks snapshot plausibility and remembers the last good snapshot.
type CircuitBreaker struct {
	// Configuration thresholds for triggering the circuit breaker
	thresholds Thresholds

	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration before auto-reset attempt
	resetDelay time.Duration

	// Mutex for thread safety
	mu sync.RWMutex

	// Most recent snapshot that passed every check
	lastGood *model.MetricsSnapshot

	// Most recent well-formed snapshot, accepted or not, and when it was seen.
	// Production changes are measured against it.
	lastSeen   *model.MetricsSnapshot
	lastSeenAt time.Time

	now func() time.Time

	// Count of consecutive successful checks in HalfOpen state
	successCount int

	// Number of successful checks required to close circuit
	successThreshold int

	// Event callbacks for monitoring/alerting
	onTripCallback  func(reason string, snapshot model.MetricsSnapshot)
	onStateCallback func(state State)
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Maximum allowed value for percentage metrics (normally 100)
	MaxPercent float64 `json:"max_percent" koanf:"max_percent"`

	// Maximum allowed relative change in monthly production between consecutive
	// snapshots of the same calendar month (e.g., 0.8 for 80%)
	MaxProductionChange float64 `json:"max_production_change" koanf:"max_production_change"`

	// Minimum number of non-zero headline metrics for a snapshot to be trusted
	MinPopulatedMetrics int `json:"min_populated_metrics" koanf:"min_populated_metrics"`
}

// DefaultThresholds returns conservative limits for daily snapshots.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxPercent:          100,
		MaxProductionChange: 0.8,
		MinPopulatedMetrics: 1,
	}
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		now:              time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful checks needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithClock sets the time source used for reset delays and month boundaries
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, snapshot model.MetricsSnapshot)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithStateCallback sets a callback invoked on every state transition
func (cb *CircuitBreaker) WithStateCallback(callback func(state State)) *CircuitBreaker {
	cb.onStateCallback = callback
	return cb
}

// Check evaluates a snapshot against the thresholds. An open breaker rejects
// every snapshot until the reset delay has passed; a failing snapshot trips it.
// Well-formed snapshots become the production baseline even while rejected, so
// a sustained new level passes once the breaker goes half-open.
func (cb *CircuitBreaker) Check(snapshot model.MetricsSnapshot) error {
	now := cb.now()

	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	if state == StateOpen {
		if now.Sub(lastTripTime) >= cb.resetDelay {
			cb.transitionToHalfOpen()
		} else {
			cb.mu.Lock()
			if cb.structuralViolation(snapshot) == "" {
				cb.observe(snapshot, now)
			}
			cb.mu.Unlock()
			return ErrOpen
		}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if reason := cb.structuralViolation(snapshot); reason != "" {
		cb.trip(reason, snapshot, now)
		return errors.New(reason)
	}

	reason := cb.productionJump(snapshot, now)
	cb.observe(snapshot, now)
	if reason != "" {
		cb.trip(reason, snapshot, now)
		return errors.New(reason)
	}

	logrus.Debug("Circuit breaker checks passed")

	good := snapshot
	cb.lastGood = &good

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: snapshots look healthy again")
		}
	}

	return nil
}

func (cb *CircuitBreaker) observe(s model.MetricsSnapshot, at time.Time) {
	seen := s
	cb.lastSeen = &seen
	cb.lastSeenAt = at
}

// structuralViolation returns a description of the first failed value check, or "".
func (cb *CircuitBreaker) structuralViolation(s model.MetricsSnapshot) string {
	for name, v := range allValues(s) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("non-finite value for %s", name)
		}
	}

	for name, v := range percentages(s) {
		if v < 0 || v > cb.thresholds.MaxPercent {
			return fmt.Sprintf("%s out of range: %.2f (allowed 0-%.0f)", name, v, cb.thresholds.MaxPercent)
		}
	}

	for name, v := range amounts(s) {
		if v < 0 {
			return fmt.Sprintf("negative amount for %s: %.2f", name, v)
		}
	}

	if populated := countPopulated(s); populated < cb.thresholds.MinPopulatedMetrics {
		return fmt.Sprintf("insufficient populated metrics: got %d, need %d", populated, cb.thresholds.MinPopulatedMetrics)
	}

	return ""
}

// productionJump compares month-to-date production with the previous snapshot.
// The first snapshot of a new month starts a fresh baseline.
func (cb *CircuitBreaker) productionJump(s model.MetricsSnapshot, now time.Time) string {
	if cb.lastSeen == nil || cb.thresholds.MaxProductionChange <= 0 || !sameMonth(cb.lastSeenAt, now) {
		return ""
	}

	last := cb.lastSeen.Financial.MonthlyProduction.Value
	current := s.Financial.MonthlyProduction.Value
	if last <= 1.0 {
		return ""
	}
	changeRatio := math.Abs(current-last) / last
	if changeRatio > cb.thresholds.MaxProductionChange {
		return fmt.Sprintf("monthly production change too drastic: %.2f%% (threshold: %.2f%%)",
			changeRatio*100, cb.thresholds.MaxProductionChange*100)
	}
	return ""
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGood returns the most recent snapshot that passed every check.
func (cb *CircuitBreaker) LastGood() (model.MetricsSnapshot, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.lastGood == nil {
		return model.MetricsSnapshot{}, false
	}
	return *cb.lastGood, true
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.setState(StateHalfOpen)
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing snapshot recovery")
	}
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string, snapshot model.MetricsSnapshot, at time.Time) {
	cb.setState(StateOpen)
	cb.successCount = 0
	cb.lastTrip = at
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, snapshot)
	}
}

func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onStateCallback != nil {
		cb.onStateCallback(s)
	}
}
