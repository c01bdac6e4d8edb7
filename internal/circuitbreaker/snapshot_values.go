package circuitbreaker

import "github.com/yourorg/practice-insights/internal/model"

// percentages lists snapshot metrics expressed as 0-100 percentages.
func percentages(s model.MetricsSnapshot) map[string]float64 {
	return map[string]float64{
		"collectionRate":       s.Financial.CollectionRate.Value,
		"caseAcceptance":       s.Financial.CaseAcceptance.Value,
		"retentionRate":        s.Patient.RetentionRate.Value,
		"referralRate":         s.Patient.ReferralRate.Value,
		"reactivationRate":     s.Patient.ReactivationRate.Value,
		"chairUtilization":     s.Operational.ChairUtilization.Value,
		"noShowRate":           s.Operational.NoShowRate.Value,
		"scheduleAdherence":    s.Operational.ScheduleAdherence.Value,
		"tmjTreatmentSuccess":  s.Subdomain.TMJ.TreatmentSuccess.Value,
		"implantSuccessRate":   s.Subdomain.Implant.SuccessRate.Value,
		"osseointegrationRate": s.Subdomain.Implant.OsseointegrationRate.Value,
		"complicationRate":     s.Subdomain.Implant.ComplicationRate.Value,
		"orthoComplianceRate":  s.Subdomain.Ortho.ComplianceRate.Value,
		"orthoRefinementRate":  s.Subdomain.Ortho.RefinementRate.Value,
	}
}

// amounts lists snapshot metrics that can never be negative.
func amounts(s model.MetricsSnapshot) map[string]float64 {
	return map[string]float64{
		"dailyProduction":         s.Financial.DailyProduction.Value,
		"monthlyProduction":       s.Financial.MonthlyProduction.Value,
		"averageTransactionValue": s.Financial.AverageTransactionValue.Value,
		"outstandingBalance":      s.Financial.OutstandingBalance.Value,
		"activePatients":          s.Patient.ActivePatients.Value,
		"newPatients":             s.Patient.NewPatients.Value,
		"avgWaitTime":             s.Operational.AvgWaitTime.Value,
	}
}

func allValues(s model.MetricsSnapshot) map[string]float64 {
	out := percentages(s)
	for k, v := range amounts(s) {
		out[k] = v
	}
	out["satisfactionScore"] = s.Patient.SatisfactionScore.Value
	out["staffProductivity"] = s.Operational.StaffProductivity.Value
	out["appointmentEfficiency"] = s.Operational.AppointmentEfficiency.Value
	out["tmjOutcomeScore"] = s.Subdomain.TMJ.OutcomeScore.Value
	out["tmjAvgTreatmentDuration"] = s.Subdomain.TMJ.AvgTreatmentDuration.Value
	out["orthoAvgTreatmentTime"] = s.Subdomain.Ortho.AvgTreatmentTime.Value
	return out
}

// countPopulated counts the headline metrics that carry data.
func countPopulated(s model.MetricsSnapshot) int {
	headline := []float64{
		s.Financial.MonthlyProduction.Value,
		s.Financial.CollectionRate.Value,
		s.Patient.ActivePatients.Value,
		s.Patient.RetentionRate.Value,
		s.Operational.ChairUtilization.Value,
		s.Operational.ScheduleAdherence.Value,
	}
	n := 0
	for _, v := range headline {
		if v != 0 {
			n++
		}
	}
	return n
}
