package insights

import (
	"fmt"
	"math"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

// Built-in rule ids
const (
	RuleLowCollectionRate       = "low_collection_rate"
	RuleDecliningCaseAcceptance = "declining_case_acceptance"
	RuleProductionMilestone     = "production_milestone"
	RuleHighNoShowRate          = "high_no_show_rate"
	RulePatientRetentionDrop    = "patient_retention_drop"
	RuleNewPatientSurge         = "new_patient_surge"
	RuleLowChairUtilization     = "low_chair_utilization"
	RuleSchedulingInefficiency  = "scheduling_inefficiency"
	RuleTMJOutcomesImprovement  = "tmj_outcomes_improvement"
	RuleImplantSuccessBenchmark = "implant_success_benchmark"
)

// BuiltinRules returns the reference rule set in registration order.
func BuiltinRules(p Params) []Rule {
	return []Rule{
		lowCollectionRate{definition{RuleLowCollectionRate, "Low Collection Rate Alert", Daily}, p},
		decliningCaseAcceptance{definition{RuleDecliningCaseAcceptance, "Declining Case Acceptance", Daily}, p},
		productionMilestone{definition{RuleProductionMilestone, "Production Milestone", Daily}, p},
		highNoShowRate{definition{RuleHighNoShowRate, "High No-Show Rate", Hourly}, p},
		patientRetentionDrop{definition{RulePatientRetentionDrop, "Patient Retention Drop", Weekly}, p},
		newPatientSurge{definition{RuleNewPatientSurge, "New Patient Surge", Daily}, p},
		lowChairUtilization{definition{RuleLowChairUtilization, "Low Chair Utilization", Hourly}, p},
		schedulingInefficiency{definition{RuleSchedulingInefficiency, "Scheduling Inefficiency", Hourly}, p},
		tmjOutcomes{definition{RuleTMJOutcomesImprovement, "TMJ Treatment Outcomes", Weekly}, p},
		implantSuccess{definition{RuleImplantSuccessBenchmark, "Implant Success Benchmark", Weekly}, p},
	}
}

type lowCollectionRate struct {
	definition
	p Params
}

func (r lowCollectionRate) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	return s.Financial.CollectionRate.Value < r.p.CollectionRateThreshold
}

func (r lowCollectionRate) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	rate := s.Financial.CollectionRate
	balance := s.Financial.OutstandingBalance.Value
	recoverable := balance * r.p.CollectionRecoveryRate

	return &model.Insight{
		Type:     model.InsightAlert,
		Priority: model.PriorityHigh,
		Category: model.InsightFinancial,
		Title:    "Collection Rate Below Target",
		Description: fmt.Sprintf("Your collection rate is currently %s%%, which is below the recommended %s%% threshold. This represents %s in outstanding balances.",
			formatPercent(rate.Value), formatNumber(r.p.CollectionRateTarget), formatCurrency(balance)),
		Impact: fmt.Sprintf("Improving collection rate to %s%% could recover approximately %s in the next 30 days.",
			formatNumber(r.p.CollectionRateTarget), formatCurrency(recoverable)),
		Metrics: []model.InsightMetric{
			{Name: "Collection Rate", Value: rate.Value, Unit: "%", Change: changeOf(rate)},
			{Name: "Outstanding Balance", Value: balance, Unit: "$"},
			{Name: "Recoverable Balance", Value: recoverable, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Review Aging Report", Type: model.ActionPrimary, Link: "/reports/aging"},
			{Text: "Update Collection Procedures", Type: model.ActionSecondary, Link: "/settings/billing"},
		},
		Timestamp: now,
	}
}

type decliningCaseAcceptance struct {
	definition
	p Params
}

func (r decliningCaseAcceptance) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	ca := s.Financial.CaseAcceptance
	change, ok := ca.ChangePercentValue()
	return ok && ca.Trend == model.TrendDown && change < r.p.CaseAcceptanceDrop
}

func (r decliningCaseAcceptance) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	ca := s.Financial.CaseAcceptance
	change, _ := ca.ChangePercentValue()

	metrics := []model.InsightMetric{
		{Name: "Case Acceptance", Value: ca.Value, Unit: "%", Change: changeOf(ca)},
	}
	if ca.PreviousValue != nil {
		metrics = append(metrics, model.InsightMetric{Name: "Previous Rate", Value: *ca.PreviousValue, Unit: "%"})
	}
	metrics = append(metrics, model.InsightMetric{Name: "Annual Value per 5% Improvement", Value: r.p.CaseAcceptanceValue, Unit: "$"})

	return &model.Insight{
		Type:     model.InsightOpportunity,
		Priority: model.PriorityHigh,
		Category: model.InsightFinancial,
		Title:    "Case Acceptance Rate Declining",
		Description: fmt.Sprintf("Case acceptance has dropped %s%% to %s%%. This trend could impact revenue growth.",
			formatPercent(math.Abs(change)), formatPercent(ca.Value)),
		Impact: fmt.Sprintf("Each 5%% improvement in case acceptance could generate an additional %s annually.",
			formatCurrency(r.p.CaseAcceptanceValue)),
		Metrics: metrics,
		Actions: []model.InsightAction{
			{Text: "Schedule Team Training", Type: model.ActionPrimary, Link: "/training/case-presentation"},
			{Text: "Review Financing Options", Type: model.ActionSecondary, Link: "/settings/financing"},
		},
		Timestamp: now,
	}
}

type productionMilestone struct {
	definition
	p Params
}

func (r productionMilestone) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	production := s.Financial.MonthlyProduction
	change, ok := production.ChangePercentValue()
	return ok && production.Value > r.p.ProductionMilestone && change > r.p.ProductionGrowth
}

func (r productionMilestone) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	production := s.Financial.MonthlyProduction
	change, _ := production.ChangePercentValue()
	projected := production.Value * 12 * r.p.AnnualGrowthFactor

	insight := &model.Insight{
		Type:     model.InsightAchievement,
		Priority: model.PriorityMedium,
		Category: model.InsightFinancial,
		Title:    "Production Milestone Achieved!",
		Description: fmt.Sprintf("Congratulations! Monthly production reached %s, a %s%% increase from last month.",
			formatCurrency(production.Value), formatPercent(change)),
		Impact: fmt.Sprintf("At this growth rate, annual production could reach %s.", formatCurrency(projected)),
		Metrics: []model.InsightMetric{
			{Name: "Monthly Production", Value: production.Value, Unit: "$", Change: changeOf(production)},
			{Name: "Projected Annual Production", Value: projected, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Share with Team", Type: model.ActionPrimary},
			{Text: "View Detailed Report", Type: model.ActionSecondary, Link: "/reports/production"},
		},
		Timestamp: now,
	}
	if r.p.MilestoneLifetime > 0 {
		expires := now.Add(r.p.MilestoneLifetime)
		insight.ExpiresAt = &expires
	}
	return insight
}
