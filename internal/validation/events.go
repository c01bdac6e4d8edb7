// Package validation checks metric events, aggregation rules and rule parameters
// before they enter the engine.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yourorg/practice-insights/internal/model"
)

var (
	// ErrInvalidEvent is returned for metric events that fail basic checks
	ErrInvalidEvent = errors.New("invalid metric event")

	// ErrInvalidRule is returned for aggregation rules that fail validation
	ErrInvalidRule = errors.New("invalid aggregation rule")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidationOptions holds configuration for event validation
type ValidationOptions struct {
	// MaxFutureSkew is how far ahead of the local clock an event may be stamped
	MaxFutureSkew time.Duration

	// MaxAge rejects events older than this; zero disables the check
	MaxAge time.Duration
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxFutureSkew: 5 * time.Minute,
		MaxAge:        0,
	}
}

// ValidateEvent checks a single metric event against opts, using now as the reference clock.
func ValidateEvent(e model.MetricEvent, now time.Time, opts ValidationOptions) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEvent)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, e.Category)
	}
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return fmt.Errorf("%w: non-finite value for %s", ErrInvalidEvent, e.Name)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for %s", ErrInvalidEvent, e.Name)
	}
	if opts.MaxFutureSkew > 0 && e.Timestamp.After(now.Add(opts.MaxFutureSkew)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidEvent, e.Timestamp.Format(time.RFC3339))
	}
	if opts.MaxAge > 0 && now.Sub(e.Timestamp) > opts.MaxAge {
		return fmt.Errorf("%w: %s is older than %s", ErrInvalidEvent, e.Name, opts.MaxAge)
	}
	return nil
}

// ValidateRule checks an aggregation rule's struct tags.
func ValidateRule(rule model.AggregationRule) error {
	if err := instance().Struct(rule); err != nil {
		return fmt.Errorf("%w %q: %s", ErrInvalidRule, rule.MetricID, describe(err))
	}
	return nil
}

// ValidateStruct checks any struct carrying validate tags.
func ValidateStruct(v any) error {
	if err := instance().Struct(v); err != nil {
		return errors.New(describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
