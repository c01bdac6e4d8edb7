package insights

import (
	"fmt"
	"math"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

type patientRetentionDrop struct {
	definition
	p Params
}

func (r patientRetentionDrop) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	retention := s.Patient.RetentionRate
	if retention.Value < r.p.RetentionThreshold {
		return true
	}
	change, ok := retention.ChangePercentValue()
	return ok && retention.Trend == model.TrendDown && change < r.p.RetentionDrop
}

func (r patientRetentionDrop) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	retention := s.Patient.RetentionRate
	atRisk := math.Round(s.Patient.ActivePatients.Value * (1 - retention.Value/100))
	if atRisk < 0 {
		atRisk = 0
	}
	preserved := atRisk * r.p.PatientAnnualValue

	return &model.Insight{
		Type:     model.InsightAlert,
		Priority: model.PriorityHigh,
		Category: model.InsightPatient,
		Title:    "Patient Retention Needs Attention",
		Description: fmt.Sprintf("Patient retention rate is %s%%, with approximately %s patients at risk of becoming inactive.",
			formatPercent(retention.Value), formatNumber(atRisk)),
		Impact: fmt.Sprintf("Improving retention by 5%% could preserve %s in annual revenue.", formatCurrency(preserved)),
		Metrics: []model.InsightMetric{
			{Name: "Retention Rate", Value: retention.Value, Unit: "%", Change: changeOf(retention)},
			{Name: "At-Risk Patients", Value: atRisk, Unit: "patients"},
			{Name: "Revenue at Risk", Value: preserved, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Launch Reactivation Campaign", Type: model.ActionPrimary, Link: "/campaigns/reactivation"},
			{Text: "Review Inactive Patients", Type: model.ActionSecondary, Link: "/patients/inactive"},
		},
		Timestamp: now,
	}
}

type newPatientSurge struct {
	definition
	p Params
}

func (r newPatientSurge) Condition(s model.MetricsSnapshot, _ model.HistoricalData) bool {
	patients := s.Patient.NewPatients
	change, ok := patients.ChangePercentValue()
	return ok && change > r.p.NewPatientGrowth && patients.Value > r.p.NewPatientMinimum
}

func (r newPatientSurge) Generate(s model.MetricsSnapshot, _ model.HistoricalData, now time.Time) *model.Insight {
	patients := s.Patient.NewPatients
	change, _ := patients.ChangePercentValue()
	annual := math.Round(patients.Value * 12 * r.p.PatientAnnualValue)

	return &model.Insight{
		Type:     model.InsightOpportunity,
		Priority: model.PriorityMedium,
		Category: model.InsightPatient,
		Title:    "New Patient Growth Surge",
		Description: fmt.Sprintf("New patient acquisitions increased %s%% with %s new patients this month.",
			formatPercent(change), formatNumber(patients.Value)),
		Impact: fmt.Sprintf("Maintaining this growth rate could add %s in annual production.", formatCurrency(annual)),
		Metrics: []model.InsightMetric{
			{Name: "New Patients", Value: patients.Value, Unit: "patients", Change: changeOf(patients)},
			{Name: "Annual Production Potential", Value: annual, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "Optimize Onboarding", Type: model.ActionPrimary, Link: "/settings/onboarding"},
			{Text: "Schedule Additional Staff", Type: model.ActionSecondary, Link: "/schedule/staff"},
		},
		Timestamp: now,
	}
}
