package insights

import "time"

// Params are the business thresholds and dollar constants used by the built-in
// rules and the forecast and benchmark adapters.
type Params struct {
	// Financial
	CollectionRateThreshold float64       `koanf:"collection_rate_threshold" json:"collection_rate_threshold" validate:"gt=0,lte=100"`
	CollectionRateTarget    float64       `koanf:"collection_rate_target" json:"collection_rate_target" validate:"gt=0,lte=100"`
	CollectionRecoveryRate  float64       `koanf:"collection_recovery_rate" json:"collection_recovery_rate" validate:"gt=0,lte=1"`
	CaseAcceptanceDrop      float64       `koanf:"case_acceptance_drop" json:"case_acceptance_drop" validate:"lt=0"`
	CaseAcceptanceValue     float64       `koanf:"case_acceptance_value" json:"case_acceptance_value" validate:"gte=0"`
	ProductionMilestone     float64       `koanf:"production_milestone" json:"production_milestone" validate:"gt=0"`
	ProductionGrowth        float64       `koanf:"production_growth" json:"production_growth" validate:"gte=0"`
	AnnualGrowthFactor      float64       `koanf:"annual_growth_factor" json:"annual_growth_factor" validate:"gt=0"`
	MilestoneLifetime       time.Duration `koanf:"milestone_lifetime" json:"milestone_lifetime" validate:"gte=0"`

	// Patient
	RetentionThreshold float64 `koanf:"retention_threshold" json:"retention_threshold" validate:"gt=0,lte=100"`
	RetentionDrop      float64 `koanf:"retention_drop" json:"retention_drop" validate:"lt=0"`
	PatientAnnualValue float64 `koanf:"patient_annual_value" json:"patient_annual_value" validate:"gte=0"`
	NewPatientGrowth   float64 `koanf:"new_patient_growth" json:"new_patient_growth" validate:"gte=0"`
	NewPatientMinimum  float64 `koanf:"new_patient_minimum" json:"new_patient_minimum" validate:"gte=0"`

	// Operational
	NoShowThreshold          float64 `koanf:"no_show_threshold" json:"no_show_threshold" validate:"gt=0,lte=100"`
	IndustryNoShowRate       float64 `koanf:"industry_no_show_rate" json:"industry_no_show_rate" validate:"gte=0,lte=100"`
	AvgAppointmentValue      float64 `koanf:"avg_appointment_value" json:"avg_appointment_value" validate:"gte=0"`
	WorkingDaysPerMonth      float64 `koanf:"working_days_per_month" json:"working_days_per_month" validate:"gt=0"`
	ChairUtilizationMinimum  float64 `koanf:"chair_utilization_minimum" json:"chair_utilization_minimum" validate:"gt=0,lte=100"`
	ChairUtilizationTarget   float64 `koanf:"chair_utilization_target" json:"chair_utilization_target" validate:"gt=0,lte=100"`
	DailySlots               float64 `koanf:"daily_slots" json:"daily_slots" validate:"gt=0"`
	ScheduleAdherenceMinimum float64 `koanf:"schedule_adherence_minimum" json:"schedule_adherence_minimum" validate:"gt=0,lte=100"`
	WaitTimeMaximum          float64 `koanf:"wait_time_maximum" json:"wait_time_maximum" validate:"gt=0"`
	AppointmentMinutes       float64 `koanf:"appointment_minutes" json:"appointment_minutes" validate:"gt=0"`

	// Clinical
	TMJOutcomeScore     float64 `koanf:"tmj_outcome_score" json:"tmj_outcome_score" validate:"gte=0,lte=10"`
	TMJSuccessRate      float64 `koanf:"tmj_success_rate" json:"tmj_success_rate" validate:"gte=0,lte=100"`
	ImplantSuccessRate  float64 `koanf:"implant_success_rate" json:"implant_success_rate" validate:"gte=0,lte=100"`
	ImplantIndustryRate float64 `koanf:"implant_industry_rate" json:"implant_industry_rate" validate:"gte=0,lte=100"`

	// Forecasts and benchmarks
	PredictedNoShowMinimum float64 `koanf:"predicted_no_show_minimum" json:"predicted_no_show_minimum" validate:"gte=0"`
	ForecastDays           int     `koanf:"forecast_days" json:"forecast_days" validate:"gt=0,lte=90"`
	StrengthPercentile     float64 `koanf:"strength_percentile" json:"strength_percentile" validate:"gte=0,lte=100"`
	OpportunityPercentile  float64 `koanf:"opportunity_percentile" json:"opportunity_percentile" validate:"gte=0,lte=100"`
	HighImpactThreshold    float64 `koanf:"high_impact_threshold" json:"high_impact_threshold" validate:"gte=0"`
	BenchmarkLimit         int     `koanf:"benchmark_limit" json:"benchmark_limit" validate:"gte=0"`

	// DisabledRules lists rule ids that start disabled.
	DisabledRules []string `koanf:"disabled_rules" json:"disabled_rules"`
}

// DefaultParams returns the reference thresholds.
func DefaultParams() Params {
	return Params{
		CollectionRateThreshold: 90,
		CollectionRateTarget:    95,
		CollectionRecoveryRate:  0.2,
		CaseAcceptanceDrop:      -5,
		CaseAcceptanceValue:     50000,
		ProductionMilestone:     100000,
		ProductionGrowth:        10,
		AnnualGrowthFactor:      1.1,
		MilestoneLifetime:       7 * 24 * time.Hour,

		RetentionThreshold: 75,
		RetentionDrop:      -3,
		PatientAnnualValue: 850,
		NewPatientGrowth:   25,
		NewPatientMinimum:  30,

		NoShowThreshold:          15,
		IndustryNoShowRate:       10,
		AvgAppointmentValue:      250,
		WorkingDaysPerMonth:      20,
		ChairUtilizationMinimum:  65,
		ChairUtilizationTarget:   85,
		DailySlots:               40,
		ScheduleAdherenceMinimum: 80,
		WaitTimeMaximum:          15,
		AppointmentMinutes:       60,

		TMJOutcomeScore:     8,
		TMJSuccessRate:      85,
		ImplantSuccessRate:  97,
		ImplantIndustryRate: 95,

		PredictedNoShowMinimum: 2,
		ForecastDays:           7,
		StrengthPercentile:     75,
		OpportunityPercentile:  50,
		HighImpactThreshold:    50000,
		BenchmarkLimit:         2,
	}
}
