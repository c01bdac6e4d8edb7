package model

import "time"

// Trend describes the direction of a metric versus its previous period.
type Trend string

// Trend values
const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// MetricResult is one computed dashboard metric.
type MetricResult struct {
	Value         float64  `json:"value"`
	PreviousValue *float64 `json:"previousValue,omitempty"`
	Change        *float64 `json:"change,omitempty"`
	ChangePercent *float64 `json:"changePercent,omitempty"`
	Trend         Trend    `json:"trend,omitempty"`
	Unit          string   `json:"unit,omitempty"`
}

// ChangePercentValue returns the change percent and whether it is known.
func (m MetricResult) ChangePercentValue() (float64, bool) {
	if m.ChangePercent == nil {
		return 0, false
	}
	return *m.ChangePercent, true
}

// PreviousValueOr returns the previous value, or def when it is unknown.
func (m MetricResult) PreviousValueOr(def float64) float64 {
	if m.PreviousValue == nil {
		return def
	}
	return *m.PreviousValue
}

// FinancialMetrics holds the financial block of a snapshot.
type FinancialMetrics struct {
	DailyProduction         MetricResult `json:"dailyProduction"`
	MonthlyProduction       MetricResult `json:"monthlyProduction"`
	CollectionRate          MetricResult `json:"collectionRate"`
	CaseAcceptance          MetricResult `json:"caseAcceptance"`
	AverageTransactionValue MetricResult `json:"averageTransactionValue"`
	OutstandingBalance      MetricResult `json:"outstandingBalance"`
}

// PatientMetrics holds the patient block of a snapshot.
type PatientMetrics struct {
	ActivePatients    MetricResult `json:"activePatients"`
	NewPatients       MetricResult `json:"newPatients"`
	RetentionRate     MetricResult `json:"retentionRate"`
	SatisfactionScore MetricResult `json:"satisfactionScore"`
	ReferralRate      MetricResult `json:"referralRate"`
	ReactivationRate  MetricResult `json:"reactivationRate"`
}

// OperationalMetrics holds the operational block of a snapshot.
type OperationalMetrics struct {
	ChairUtilization      MetricResult `json:"chairUtilization"`
	StaffProductivity     MetricResult `json:"staffProductivity"`
	NoShowRate            MetricResult `json:"noShowRate"`
	AppointmentEfficiency MetricResult `json:"appointmentEfficiency"`
	AvgWaitTime           MetricResult `json:"avgWaitTime"`
	ScheduleAdherence     MetricResult `json:"scheduleAdherence"`
}

// TMJMetrics are the TMJ specialty metrics.
type TMJMetrics struct {
	OutcomeScore         MetricResult `json:"outcomeScore"`
	TreatmentSuccess     MetricResult `json:"treatmentSuccess"`
	AvgTreatmentDuration MetricResult `json:"avgTreatmentDuration"`
}

// ImplantMetrics are the implant specialty metrics.
type ImplantMetrics struct {
	SuccessRate          MetricResult `json:"successRate"`
	OsseointegrationRate MetricResult `json:"osseointegrationRate"`
	ComplicationRate     MetricResult `json:"complicationRate"`
}

// OrthoMetrics are the orthodontic specialty metrics.
type OrthoMetrics struct {
	AvgTreatmentTime MetricResult `json:"avgTreatmentTime"`
	ComplianceRate   MetricResult `json:"complianceRate"`
	RefinementRate   MetricResult `json:"refinementRate"`
}

// SubdomainMetrics groups the specialty metrics.
type SubdomainMetrics struct {
	TMJ     TMJMetrics     `json:"tmj"`
	Implant ImplantMetrics `json:"implant"`
	Ortho   OrthoMetrics   `json:"ortho"`
}

// MetricsSnapshot is the full set of computed dashboard metrics at one point in time.
// The insight engine treats it as an immutable value.
type MetricsSnapshot struct {
	Financial   FinancialMetrics   `json:"financial"`
	Patient     PatientMetrics     `json:"patient"`
	Operational OperationalMetrics `json:"operational"`
	Subdomain   SubdomainMetrics   `json:"subdomain"`
}

// DailyProduction is one day of the production history.
type DailyProduction struct {
	Date            time.Time `json:"date"`
	TotalProduction float64   `json:"total_production"`
}

// HistoricalData is the bounded lookback bundle handed to insight rules.
type HistoricalData struct {
	Production   []DailyProduction `json:"production"`
	Appointments []Appointment     `json:"appointments"`
}

// BenchmarkData compares one practice metric with the industry.
type BenchmarkData struct {
	Metric               string  `json:"metric"`
	Category             string  `json:"category"`
	PracticeValue        float64 `json:"practiceValue"`
	IndustryAverage      float64 `json:"industryAverage"`
	TopPerformers        float64 `json:"topPerformers"`
	PercentileRank       float64 `json:"percentileRank"`
	Unit                 string  `json:"unit,omitempty"`
	Trend                string  `json:"trend"`
	Gap                  float64 `json:"gap"`
	ImprovementPotential float64 `json:"improvementPotential"`
}

// Opportunity is a benchmark improvement opportunity with an estimated dollar impact.
type Opportunity struct {
	Metric             string   `json:"metric"`
	CurrentValue       float64  `json:"currentValue"`
	TargetValue        float64  `json:"targetValue"`
	PotentialImpact    float64  `json:"potentialImpact"`
	RecommendedActions []string `json:"recommendedActions"`
}

// PeerComparison places the practice in its peer group.
type PeerComparison struct {
	SimilarPractices int `json:"similarPractices"`
	BetterThan       int `json:"betterThan"`
	RankInPeerGroup  int `json:"rankInPeerGroup"`
}

// BenchmarkReport is the percentile-ranked comparison returned by the benchmark provider.
type BenchmarkReport struct {
	OverallScore   float64         `json:"overallScore"`
	PercentileRank float64         `json:"percentileRank"`
	Strengths      []BenchmarkData `json:"strengths"`
	Weaknesses     []BenchmarkData `json:"weaknesses"`
	Opportunities  []Opportunity   `json:"opportunities"`
	PeerComparison PeerComparison  `json:"peerComparison"`
}

// PredictionFactor is one contribution to a prediction.
type PredictionFactor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"`
}

// PredictionRange bounds a prediction.
type PredictionRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PredictionResult is a numeric forecast with its confidence.
type PredictionResult struct {
	Value      float64            `json:"value"`
	Confidence float64            `json:"confidence"`
	Range      PredictionRange    `json:"range"`
	Factors    []PredictionFactor `json:"factors,omitempty"`
}

// SchedulingPrediction is the next-day scheduling forecast.
type SchedulingPrediction struct {
	Date               time.Time `json:"date"`
	PredictedNoShows   float64   `json:"predictedNoShows"`
	OptimalOverbooking float64   `json:"optimalOverbooking"`
	ChairUtilization   float64   `json:"chairUtilization"`
	ProductionForecast float64   `json:"productionForecast"`
}

// FinancialForecast is one forecast day.
type FinancialForecast struct {
	Date        time.Time        `json:"date"`
	Production  PredictionResult `json:"production"`
	Collections PredictionResult `json:"collections"`
	NewPatients PredictionResult `json:"newPatients"`
}
