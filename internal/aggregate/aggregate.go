package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

// InWindow returns the events of the given names whose timestamp is strictly after cutoff.
// Input order is preserved.
func InWindow(events []model.MetricEvent, names map[string]struct{}, cutoff time.Time) []model.MetricEvent {
	out := make([]model.MetricEvent, 0, len(events))
	for _, e := range events {
		if _, ok := names[e.Name]; !ok {
			continue
		}
		if !e.Timestamp.After(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Apply folds events with the given aggregation type.
// The boolean is false when events is empty, in which case no value is defined.
func Apply(aggType model.AggregationType, events []model.MetricEvent) (float64, bool, error) {
	if len(events) == 0 {
		return 0, false, nil
	}

	switch aggType {
	case model.AggregationSum:
		return Sum(events), true, nil
	case model.AggregationAverage:
		return Average(events), true, nil
	case model.AggregationCount:
		return float64(len(events)), true, nil
	case model.AggregationLast:
		return Last(events).Value, true, nil
	case model.AggregationMax:
		return Max(events), true, nil
	case model.AggregationMin:
		return Min(events), true, nil
	default:
		return 0, false, fmt.Errorf("unsupported aggregation type: %q", aggType)
	}
}

// Sum adds up all values
func Sum(events []model.MetricEvent) float64 {
	total := 0.0
	for _, e := range events {
		total += e.Value
	}
	return total
}

// Average returns the arithmetic mean, 0 for no events.
func Average(events []model.MetricEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	return Sum(events) / float64(len(events))
}

// Last returns the event with the greatest timestamp. On ties the one later in
// the slice wins, so insertion order breaks ties.
func Last(events []model.MetricEvent) model.MetricEvent {
	var latest model.MetricEvent
	for i, e := range events {
		if i == 0 || !e.Timestamp.Before(latest.Timestamp) {
			latest = e
		}
	}
	return latest
}

func Max(events []model.MetricEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	m := math.Inf(-1)
	for _, e := range events {
		m = math.Max(m, e.Value)
	}
	return m
}

func Min(events []model.MetricEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	m := math.Inf(1)
	for _, e := range events {
		m = math.Min(m, e.Value)
	}
	return m
}

// Median returns the median value, useful for outlier-robust summaries.
func Median(events []model.MetricEvent) float64 {
	if len(events) == 0 {
		return 0
	}

	values := make([]float64, 0, len(events))
	for _, e := range events {
		values = append(values, e.Value)
	}

	sort.Float64s(values)
	n := len(values)

	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}
