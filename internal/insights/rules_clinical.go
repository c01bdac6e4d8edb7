package insights

import (
	"fmt"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

type tmjOutcomes struct {
	definition
	p Params
}

func (r tmjOutcomes) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	tmj := s.Subdomain.TMJ
	return tmj.OutcomeScore.Value > r.p.TMJOutcomeScore && tmj.TreatmentSuccess.Value > r.p.TMJSuccessRate
}

func (r tmjOutcomes) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	tmj := s.Subdomain.TMJ

	return &model.Insight{
		Type:     model.InsightAchievement,
		Priority: model.PriorityLow,
		Category: model.InsightClinical,
		Title:    "Excellent TMJ Treatment Outcomes",
		Description: fmt.Sprintf("TMJ treatment success rate of %s%% with outcome scores averaging %s/10.",
			formatPercent(tmj.TreatmentSuccess.Value), formatPercent(tmj.OutcomeScore.Value)),
		Impact: fmt.Sprintf("A %s%% success rate positions the practice as a leader in TMJ treatment.",
			formatPercent(tmj.TreatmentSuccess.Value)),
		Metrics: []model.InsightMetric{
			{Name: "Success Rate", Value: tmj.TreatmentSuccess.Value, Unit: "%"},
			{Name: "Outcome Score", Value: tmj.OutcomeScore.Value, Unit: "/10"},
		},
		Actions: []model.InsightAction{
			{Text: "Share Success Stories", Type: model.ActionPrimary, Link: "/marketing/testimonials"},
			{Text: "Update Website", Type: model.ActionSecondary},
		},
		Timestamp: now,
	}
}

type implantSuccess struct {
	definition
	p Params
}

func (r implantSuccess) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	return s.Subdomain.Implant.SuccessRate.Value > r.p.ImplantSuccessRate
}

func (r implantSuccess) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	implant := s.Subdomain.Implant
	lead := implant.SuccessRate.Value - r.p.ImplantIndustryRate

	return &model.Insight{
		Type:     model.InsightAchievement,
		Priority: model.PriorityLow,
		Category: model.InsightClinical,
		Title:    "Implant Success Rate Exceeds Industry Standards",
		Description: fmt.Sprintf("Achieving %s%% implant success rate, well above the %s%% industry benchmark.",
			formatPercent(implant.SuccessRate.Value), formatNumber(r.p.ImplantIndustryRate)),
		Impact: fmt.Sprintf("Running %s points above the industry benchmark can attract more complex cases and referrals.",
			formatPercent(lead)),
		Metrics: []model.InsightMetric{
			{Name: "Success Rate", Value: implant.SuccessRate.Value, Unit: "%"},
			{Name: "Osseointegration", Value: implant.OsseointegrationRate.Value, Unit: "%"},
			{Name: "Lead over Benchmark", Value: lead, Unit: "%"},
		},
		Actions: []model.InsightAction{
			{Text: "Request Reviews", Type: model.ActionPrimary, Link: "/patients/reviews"},
			{Text: "Update Credentials", Type: model.ActionSecondary},
		},
		Timestamp: now,
	}
}
