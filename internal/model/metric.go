// Package model defines the core data structures for the practice insights engine.
package model

import (
	"time"
)

// Category groups metric events by business area.
type Category string

// Metric categories
const (
	CategoryFinancial   Category = "financial"
	CategoryPatient     Category = "patient"
	CategoryOperational Category = "operational"
	CategorySubdomain   Category = "subdomain"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFinancial, CategoryPatient, CategoryOperational, CategorySubdomain:
		return true
	}
	return false
}

// MetricEvent is a single observation flowing through the realtime aggregator.
// Events are values: once created they are never modified.
type MetricEvent struct {
	// ID identifies the observation, usually derived from the source record
	ID string `json:"id"`

	// Name is the raw metric name (e.g. "appointment_production") or, for
	// aggregates written back into the cache, the aggregation rule id
	Name string `json:"name"`

	// Value is the observed value
	Value float64 `json:"value"`

	// Unit is an optional display unit such as "$", "%" or "min"
	Unit string `json:"unit,omitempty"`

	// Timestamp is when the observation was made
	Timestamp time.Time `json:"timestamp"`

	// Category is the business area the metric belongs to
	Category Category `json:"category"`
}

// NewMetricEvent creates a metric event stamped with the given time.
func NewMetricEvent(id, name string, value float64, unit string, category Category, at time.Time) MetricEvent {
	return MetricEvent{
		ID:        id,
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: at,
		Category:  category,
	}
}

// CacheKey returns the key the event is stored under in the metric cache.
func (m MetricEvent) CacheKey() string {
	return CacheKey(m.Category, m.Name)
}

// CacheKey builds a metric cache key from a category and a metric name.
func CacheKey(category Category, name string) string {
	return string(category) + "_" + name
}

// AggregationType selects how matching events are folded into one value.
type AggregationType string

// Supported aggregation types
const (
	AggregationSum     AggregationType = "sum"
	AggregationAverage AggregationType = "average"
	AggregationCount   AggregationType = "count"
	AggregationLast    AggregationType = "last"
	AggregationMax     AggregationType = "max"
	AggregationMin     AggregationType = "min"
)

// AggregationRule configures one rolling aggregate.
type AggregationRule struct {
	// MetricID names the aggregate; it is also the name of the synthetic event
	// written back into the cache
	MetricID string `json:"metric_id" validate:"required"`

	// AggregationType is the fold applied to in-window events
	AggregationType AggregationType `json:"aggregation_type" validate:"required,oneof=sum average count last max min"`

	// TimeWindowMinutes is the width of the sliding window
	TimeWindowMinutes int `json:"time_window_minutes" validate:"gt=0"`

	// RefreshIntervalSeconds is how often the aggregate is recomputed by timer
	RefreshIntervalSeconds int `json:"refresh_interval_seconds" validate:"gt=0"`
}

// Window returns the rule's window as a duration.
func (r AggregationRule) Window() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

// RefreshInterval returns the rule's timer period as a duration.
func (r AggregationRule) RefreshInterval() time.Duration {
	return time.Duration(r.RefreshIntervalSeconds) * time.Second
}
