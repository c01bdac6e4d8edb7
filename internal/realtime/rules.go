package realtime

import (
	"strings"

	"github.com/yourorg/practice-insights/internal/model"
)

// Raw metric names produced by the change handlers
const (
	MetricAppointmentProduction = "appointment_production"
	MetricPaymentCollected      = "payment_collected"
	MetricPatientStarted        = "patient_started"
	MetricNewPatient            = "new_patient"
	MetricPatientReactivated    = "patient_reactivated"
	MetricWaitTime              = "wait_time"
	MetricNoShow                = "no_show"
	MetricChairUtilization      = "chair_utilization"
	MetricOutstandingBalance    = "outstanding_balance"
)

// Built-in aggregation rule ids
const (
	RuleDailyProduction         = "daily_production"
	RuleHourlyProduction        = "hourly_production"
	RuleDailyCollections        = "daily_collections"
	RulePatientThroughput       = "patient_throughput"
	RuleNewPatientRegistrations = "new_patient_registrations"
	RuleCurrentWaitTime         = "current_wait_time"
	RuleChairOccupancy          = "chair_occupancy"
)

// DefaultRules returns the built-in aggregation rules in registration order.
func DefaultRules() []model.AggregationRule {
	return []model.AggregationRule{
		{MetricID: RuleDailyProduction, AggregationType: model.AggregationSum, TimeWindowMinutes: 1440, RefreshIntervalSeconds: 300},
		{MetricID: RuleHourlyProduction, AggregationType: model.AggregationSum, TimeWindowMinutes: 60, RefreshIntervalSeconds: 60},
		{MetricID: RuleDailyCollections, AggregationType: model.AggregationSum, TimeWindowMinutes: 1440, RefreshIntervalSeconds: 300},
		{MetricID: RulePatientThroughput, AggregationType: model.AggregationCount, TimeWindowMinutes: 60, RefreshIntervalSeconds: 30},
		{MetricID: RuleNewPatientRegistrations, AggregationType: model.AggregationCount, TimeWindowMinutes: 1440, RefreshIntervalSeconds: 300},
		{MetricID: RuleCurrentWaitTime, AggregationType: model.AggregationAverage, TimeWindowMinutes: 30, RefreshIntervalSeconds: 60},
		{MetricID: RuleChairOccupancy, AggregationType: model.AggregationLast, TimeWindowMinutes: 5, RefreshIntervalSeconds: 30},
	}
}

// defaultRelevance maps each built-in rule to the raw metric names it folds.
// Production and collections are separate rollups so a billed and collected
// appointment is never counted twice.
func defaultRelevance() map[string][]string {
	return map[string][]string{
		RuleDailyProduction:         {MetricAppointmentProduction},
		RuleHourlyProduction:        {MetricAppointmentProduction},
		RuleDailyCollections:        {MetricPaymentCollected},
		RulePatientThroughput:       {MetricPatientStarted},
		RuleNewPatientRegistrations: {MetricNewPatient},
		RuleCurrentWaitTime:         {MetricWaitTime},
		RuleChairOccupancy:          {MetricChairUtilization},
	}
}

// CategoryForMetric derives the category of a synthetic aggregate event from its id.
func CategoryForMetric(metricID string) model.Category {
	switch {
	case strings.Contains(metricID, "production"), strings.Contains(metricID, "collection"):
		return model.CategoryFinancial
	case strings.Contains(metricID, "patient"):
		return model.CategoryPatient
	default:
		return model.CategoryOperational
	}
}
