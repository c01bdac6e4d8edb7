package model

import "time"

// InsightType classifies an insight.
type InsightType string

// Insight types
const (
	InsightAlert          InsightType = "alert"
	InsightOpportunity    InsightType = "opportunity"
	InsightTrend          InsightType = "trend"
	InsightAchievement    InsightType = "achievement"
	InsightRecommendation InsightType = "recommendation"
)

// Priority orders insights in the feed.
type Priority string

// Priorities
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a sortable weight, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// InsightCategory is the business area an insight is about.
type InsightCategory string

// Insight categories
const (
	InsightFinancial   InsightCategory = "financial"
	InsightPatient     InsightCategory = "patient"
	InsightOperational InsightCategory = "operational"
	InsightClinical    InsightCategory = "clinical"
)

// ActionType marks an insight action as the main or an alternative next step.
type ActionType string

// Action types
const (
	ActionPrimary   ActionType = "primary"
	ActionSecondary ActionType = "secondary"
)

// InsightMetric is a number quoted by an insight.
type InsightMetric struct {
	Name   string   `json:"name"`
	Value  float64  `json:"value"`
	Unit   string   `json:"unit"`
	Change *float64 `json:"change,omitempty"`
}

// InsightAction is an actionable next step.
type InsightAction struct {
	Text string     `json:"text"`
	Type ActionType `json:"type"`
	Link string     `json:"link,omitempty"`
}

// Insight is a ranked notification surfaced to the practice.
type Insight struct {
	ID          string          `json:"id"`
	Type        InsightType     `json:"type"`
	Priority    Priority        `json:"priority"`
	Category    InsightCategory `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Impact      string          `json:"impact"`
	Metrics     []InsightMetric `json:"metrics"`
	Actions     []InsightAction `json:"actions"`
	Timestamp   time.Time       `json:"timestamp"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// DedupKey identifies insights that say the same thing.
type DedupKey struct {
	Type     InsightType
	Category InsightCategory
	Title    string
}

// DedupKey returns the (type, category, title) triple of the insight.
func (i Insight) DedupKey() DedupKey {
	return DedupKey{Type: i.Type, Category: i.Category, Title: i.Title}
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (i Insight) Clone() Insight {
	out := i
	if i.Metrics != nil {
		out.Metrics = make([]InsightMetric, len(i.Metrics))
		for idx, m := range i.Metrics {
			if m.Change != nil {
				c := *m.Change
				m.Change = &c
			}
			out.Metrics[idx] = m
		}
	}
	if i.Actions != nil {
		out.Actions = append([]InsightAction(nil), i.Actions...)
	}
	if i.ExpiresAt != nil {
		e := *i.ExpiresAt
		out.ExpiresAt = &e
	}
	return out
}
