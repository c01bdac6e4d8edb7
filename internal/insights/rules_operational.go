package insights

import (
	"fmt"
	"math"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

type highNoShowRate struct {
	definition
	p Params
}

func (r highNoShowRate) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	return s.Operational.NoShowRate.Value > r.p.NoShowThreshold
}

func (r highNoShowRate) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	rate := s.Operational.NoShowRate
	// rate is a percentage; the loss estimate multiplies it with the value of a
	// month of appointment days.
	loss := rate.Value * r.p.AvgAppointmentValue * r.p.WorkingDaysPerMonth

	return &model.Insight{
		Type:     model.InsightAlert,
		Priority: model.PriorityHigh,
		Category: model.InsightOperational,
		Title:    "No-Show Rate Exceeds Threshold",
		Description: fmt.Sprintf("No-show rate has reached %s%%, significantly above the %s%% industry average.",
			formatPercent(rate.Value), formatNumber(r.p.IndustryNoShowRate)),
		Impact: fmt.Sprintf("Current no-shows are costing approximately %s per month in lost production.", formatCurrency(loss)),
		Metrics: []model.InsightMetric{
			{Name: "No-Show Rate", Value: rate.Value, Unit: "%", Change: changeOf(rate)},
			{Name: "Estimated Monthly Loss", Value: loss, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Configure Reminder Settings", Type: model.ActionPrimary, Link: "/settings/reminders"},
			{Text: "View No-Show Patients", Type: model.ActionSecondary, Link: "/patients/no-shows"},
		},
		Timestamp: now,
	}
}

type lowChairUtilization struct {
	definition
	p Params
}

func (r lowChairUtilization) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	return s.Operational.ChairUtilization.Value < r.p.ChairUtilizationMinimum
}

func (r lowChairUtilization) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	utilization := s.Operational.ChairUtilization
	slots := math.Round((r.p.ChairUtilizationTarget - utilization.Value) / 100 * r.p.DailySlots)
	if slots < 0 {
		slots = 0
	}
	monthly := slots * r.p.AvgAppointmentValue * r.p.WorkingDaysPerMonth

	return &model.Insight{
		Type:     model.InsightOpportunity,
		Priority: model.PriorityMedium,
		Category: model.InsightOperational,
		Title:    "Chair Utilization Below Optimal",
		Description: fmt.Sprintf("Current chair utilization is %s%%, leaving approximately %s appointment slots unfilled daily.",
			formatPercent(utilization.Value), formatNumber(slots)),
		Impact: fmt.Sprintf("Reaching %s%% utilization could generate an additional %s monthly.",
			formatNumber(r.p.ChairUtilizationTarget), formatCurrency(monthly)),
		Metrics: []model.InsightMetric{
			{Name: "Chair Utilization", Value: utilization.Value, Unit: "%", Change: changeOf(utilization)},
			{Name: "Unfilled Daily Slots", Value: slots, Unit: "slots"},
			{Name: "Monthly Opportunity", Value: monthly, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Review Schedule Blocks", Type: model.ActionPrimary, Link: "/schedule/optimization"},
			{Text: "Enable Online Booking", Type: model.ActionSecondary, Link: "/settings/online-booking"},
		},
		Timestamp: now,
	}
}

type schedulingInefficiency struct {
	definition
	p Params
}

func (r schedulingInefficiency) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	return s.Operational.ScheduleAdherence.Value < r.p.ScheduleAdherenceMinimum ||
		s.Operational.AvgWaitTime.Value > r.p.WaitTimeMaximum
}

func (r schedulingInefficiency) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	adherence := s.Operational.ScheduleAdherence
	wait := s.Operational.AvgWaitTime
	slots := r.recoverableSlots(adherence.Value, wait.Value)
	monthly := slots * r.p.AvgAppointmentValue * r.p.WorkingDaysPerMonth

	return &model.Insight{
		Type:     model.InsightRecommendation,
		Priority: model.PriorityMedium,
		Category: model.InsightOperational,
		Title:    "Scheduling Efficiency Can Be Improved",
		Description: fmt.Sprintf("Schedule adherence is %s%% with average wait times of %s minutes.",
			formatPercent(adherence.Value), formatNumber(wait.Value)),
		Impact: fmt.Sprintf("Recovering about %s appointment slots daily could add %s in monthly production.",
			formatNumber(slots), formatCurrency(monthly)),
		Metrics: []model.InsightMetric{
			{Name: "Schedule Adherence", Value: adherence.Value, Unit: "%", Change: changeOf(adherence)},
			{Name: "Avg Wait Time", Value: wait.Value, Unit: "min", Change: changeOf(wait)},
			{Name: "Recoverable Daily Slots", Value: slots, Unit: "slots"},
			{Name: "Monthly Opportunity", Value: monthly, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Analyze Bottlenecks", Type: model.ActionPrimary, Link: "/analytics/scheduling"},
			{Text: "Adjust Time Slots", Type: model.ActionSecondary, Link: "/settings/appointments"},
		},
		Timestamp: now,
	}
}

// recoverableSlots estimates the daily slots lost to schedule drift: the
// adherence shortfall as a share of the day's slots plus the excess wait
// minutes across the day expressed in appointment lengths. Capped at the
// day's slots and rounded to one decimal.
func (r schedulingInefficiency) recoverableSlots(adherence, wait float64) float64 {
	drift := math.Max(0, r.p.ScheduleAdherenceMinimum-adherence) / 100 * r.p.DailySlots
	delay := math.Max(0, wait-r.p.WaitTimeMaximum) * r.p.DailySlots / r.p.AppointmentMinutes
	slots := math.Min(drift+delay, r.p.DailySlots)
	return math.Round(slots*10) / 10
}
