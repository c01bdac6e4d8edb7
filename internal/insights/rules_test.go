package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/practice-insights/internal/model"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func pct(v float64) *float64 { return &v }

func result(v float64) model.MetricResult { return model.MetricResult{Value: v} }

// quietSnapshot trips none of the built-in rules.
func quietSnapshot() model.MetricsSnapshot {
	var s model.MetricsSnapshot
	s.Financial.CollectionRate = result(97)
	s.Financial.OutstandingBalance = result(20000)
	s.Financial.CaseAcceptance = model.MetricResult{Value: 70, ChangePercent: pct(1), Trend: model.TrendStable}
	s.Financial.MonthlyProduction = model.MetricResult{Value: 80000, ChangePercent: pct(2), Trend: model.TrendUp}
	s.Patient.ActivePatients = result(1200)
	s.Patient.RetentionRate = model.MetricResult{Value: 88, ChangePercent: pct(0.5), Trend: model.TrendStable}
	s.Patient.NewPatients = model.MetricResult{Value: 20, ChangePercent: pct(5)}
	s.Operational.NoShowRate = result(6)
	s.Operational.ChairUtilization = result(82)
	s.Operational.ScheduleAdherence = result(92)
	s.Operational.AvgWaitTime = result(8)
	s.Subdomain.TMJ.OutcomeScore = result(7)
	s.Subdomain.TMJ.TreatmentSuccess = result(80)
	s.Subdomain.Implant.SuccessRate = result(94)
	s.Subdomain.Implant.OsseointegrationRate = result(96)
	return s
}

func ruleByID(t *testing.T, id string) Rule {
	t.Helper()
	for _, r := range BuiltinRules(DefaultParams()) {
		if r.ID() == id {
			return r
		}
	}
	t.Fatalf("rule %s not found", id)
	return nil
}

func TestQuietSnapshotTriggersNothing(t *testing.T) {
	s := quietSnapshot()
	for _, r := range BuiltinRules(DefaultParams()) {
		assert.False(t, r.Condition(s, model.HistoricalData{}), r.ID())
	}
}

func TestRuleConditions(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		mutate func(*model.MetricsSnapshot)
		fires  bool
	}{
		{"collection rate below 90", RuleLowCollectionRate, func(s *model.MetricsSnapshot) { s.Financial.CollectionRate.Value = 89.9 }, true},
		{"collection rate at 90", RuleLowCollectionRate, func(s *model.MetricsSnapshot) { s.Financial.CollectionRate.Value = 90 }, false},
		{"case acceptance falling fast", RuleDecliningCaseAcceptance, func(s *model.MetricsSnapshot) {
			s.Financial.CaseAcceptance = model.MetricResult{Value: 60, ChangePercent: pct(-8), Trend: model.TrendDown}
		}, true},
		{"case acceptance falling slowly", RuleDecliningCaseAcceptance, func(s *model.MetricsSnapshot) {
			s.Financial.CaseAcceptance = model.MetricResult{Value: 60, ChangePercent: pct(-4), Trend: model.TrendDown}
		}, false},
		{"case acceptance without change", RuleDecliningCaseAcceptance, func(s *model.MetricsSnapshot) {
			s.Financial.CaseAcceptance = model.MetricResult{Value: 60, Trend: model.TrendDown}
		}, false},
		{"production milestone", RuleProductionMilestone, func(s *model.MetricsSnapshot) {
			s.Financial.MonthlyProduction = model.MetricResult{Value: 120000, ChangePercent: pct(12)}
		}, true},
		{"production high but flat", RuleProductionMilestone, func(s *model.MetricsSnapshot) {
			s.Financial.MonthlyProduction = model.MetricResult{Value: 120000, ChangePercent: pct(3)}
		}, false},
		{"no-show above 15", RuleHighNoShowRate, func(s *model.MetricsSnapshot) { s.Operational.NoShowRate.Value = 15.5 }, true},
		{"no-show at 15", RuleHighNoShowRate, func(s *model.MetricsSnapshot) { s.Operational.NoShowRate.Value = 15 }, false},
		{"retention below 75", RulePatientRetentionDrop, func(s *model.MetricsSnapshot) { s.Patient.RetentionRate.Value = 70 }, true},
		{"retention falling", RulePatientRetentionDrop, func(s *model.MetricsSnapshot) {
			s.Patient.RetentionRate = model.MetricResult{Value: 82, ChangePercent: pct(-4), Trend: model.TrendDown}
		}, true},
		{"new patient surge", RuleNewPatientSurge, func(s *model.MetricsSnapshot) {
			s.Patient.NewPatients = model.MetricResult{Value: 35, ChangePercent: pct(30)}
		}, true},
		{"new patient surge too small", RuleNewPatientSurge, func(s *model.MetricsSnapshot) {
			s.Patient.NewPatients = model.MetricResult{Value: 25, ChangePercent: pct(30)}
		}, false},
		{"chair utilization low", RuleLowChairUtilization, func(s *model.MetricsSnapshot) { s.Operational.ChairUtilization.Value = 60 }, true},
		{"adherence low", RuleSchedulingInefficiency, func(s *model.MetricsSnapshot) { s.Operational.ScheduleAdherence.Value = 75 }, true},
		{"wait time high", RuleSchedulingInefficiency, func(s *model.MetricsSnapshot) { s.Operational.AvgWaitTime.Value = 20 }, true},
		{"tmj outcomes", RuleTMJOutcomesImprovement, func(s *model.MetricsSnapshot) {
			s.Subdomain.TMJ.OutcomeScore.Value = 8.5
			s.Subdomain.TMJ.TreatmentSuccess.Value = 90
		}, true},
		{"tmj score only", RuleTMJOutcomesImprovement, func(s *model.MetricsSnapshot) { s.Subdomain.TMJ.OutcomeScore.Value = 9 }, false},
		{"implant success", RuleImplantSuccessBenchmark, func(s *model.MetricsSnapshot) { s.Subdomain.Implant.SuccessRate.Value = 98 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := quietSnapshot()
			tt.mutate(&s)
			assert.Equal(t, tt.fires, ruleByID(t, tt.rule).Condition(s, model.HistoricalData{}))
		})
	}
}

func TestEveryRuleProducesActionableInsight(t *testing.T) {
	s := quietSnapshot()
	s.Financial.CollectionRate.Value = 85
	s.Financial.CaseAcceptance = model.MetricResult{Value: 60, PreviousValue: pct(66), ChangePercent: pct(-9), Trend: model.TrendDown}
	s.Financial.MonthlyProduction = model.MetricResult{Value: 120000, ChangePercent: pct(12)}
	s.Operational.NoShowRate.Value = 18
	s.Patient.RetentionRate.Value = 70
	s.Patient.NewPatients = model.MetricResult{Value: 35, ChangePercent: pct(30)}
	s.Operational.ChairUtilization.Value = 60
	s.Operational.AvgWaitTime.Value = 20
	s.Subdomain.TMJ.OutcomeScore.Value = 8.5
	s.Subdomain.TMJ.TreatmentSuccess.Value = 90
	s.Subdomain.Implant.SuccessRate.Value = 98

	for _, r := range BuiltinRules(DefaultParams()) {
		t.Run(r.ID(), func(t *testing.T) {
			require.True(t, r.Condition(s, model.HistoricalData{}))
			insight := r.Generate(s, model.HistoricalData{}, testNow)
			require.NotNil(t, insight)
			assert.NotEmpty(t, insight.Title)
			assert.NotEmpty(t, insight.Description)
			assert.NotEmpty(t, insight.Impact)
			assert.NotEmpty(t, insight.Metrics)
			assert.NotEmpty(t, insight.Actions)
			assert.Equal(t, model.ActionPrimary, insight.Actions[0].Type)
			assert.Equal(t, testNow, insight.Timestamp)
		})
	}
}

func TestHighNoShowScenario(t *testing.T) {
	s := quietSnapshot()
	s.Operational.NoShowRate.Value = 18

	r := ruleByID(t, RuleHighNoShowRate)
	require.True(t, r.Condition(s, model.HistoricalData{}))

	insight := r.Generate(s, model.HistoricalData{}, testNow)
	require.NotNil(t, insight)
	assert.Equal(t, model.InsightAlert, insight.Type)
	assert.Equal(t, model.PriorityHigh, insight.Priority)
	assert.Equal(t, 18.0, insight.Metrics[0].Value)
	assert.NotEmpty(t, insight.Actions)
	assert.Contains(t, insight.Description, "18.0%")
	assert.Contains(t, insight.Impact, "$90,000")
}

func TestLowCollectionRateScenario(t *testing.T) {
	s := quietSnapshot()
	s.Financial.CollectionRate.Value = 88
	s.Financial.OutstandingBalance.Value = 50000

	r := ruleByID(t, RuleLowCollectionRate)
	require.True(t, r.Condition(s, model.HistoricalData{}))

	insight := r.Generate(s, model.HistoricalData{}, testNow)
	require.NotNil(t, insight)
	assert.Contains(t, insight.Impact, "$10,000")
	assert.Contains(t, insight.Description, "88.0%")
	assert.Contains(t, insight.Description, "$50,000")
	assert.Equal(t, 88.0, insight.Metrics[0].Value)
	assert.Equal(t, 50000.0, insight.Metrics[1].Value)
	assert.InDelta(t, 10000.0, insight.Metrics[2].Value, 1e-6)
}

func TestProductionMilestoneExpires(t *testing.T) {
	s := quietSnapshot()
	s.Financial.MonthlyProduction = model.MetricResult{Value: 120000, ChangePercent: pct(12)}

	insight := ruleByID(t, RuleProductionMilestone).Generate(s, model.HistoricalData{}, testNow)
	require.NotNil(t, insight)
	require.NotNil(t, insight.ExpiresAt)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *insight.ExpiresAt)
	assert.Contains(t, insight.Impact, "$1,584,000")
}

func TestRetentionAtRiskPatients(t *testing.T) {
	s := quietSnapshot()
	s.Patient.ActivePatients.Value = 1000
	s.Patient.RetentionRate.Value = 70

	insight := ruleByID(t, RulePatientRetentionDrop).Generate(s, model.HistoricalData{}, testNow)
	require.NotNil(t, insight)
	assert.Equal(t, 300.0, insight.Metrics[1].Value)
	assert.Contains(t, insight.Description, "300 patients")
	assert.Contains(t, insight.Impact, "$255,000")
}

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0"},
		{999.4, "$999"},
		{10000, "$10,000"},
		{1234567.5, "$1,234,568"},
		{-2500, "-$2,500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatCurrency(tt.in))
	}
}

func TestBenchmarkCategory(t *testing.T) {
	assert.Equal(t, model.InsightClinical, benchmarkCategory("subdomain"))
	assert.Equal(t, model.InsightFinancial, benchmarkCategory("financial"))
	assert.Equal(t, model.InsightPatient, benchmarkCategory("patient"))
	assert.Equal(t, model.InsightOperational, benchmarkCategory("operational"))
}

func TestSchedulingInefficiencyImpact(t *testing.T) {
	tests := []struct {
		name      string
		adherence float64
		wait      float64
		slots     float64
		monthly   float64
		impact    string
	}{
		{"adherence just below minimum", 79, 5, 0.4, 2000, "Recovering about 0.4 appointment slots daily could add $2,000 in monthly production."},
		{"long waits only", 92, 20, 3.3, 16500, "Recovering about 3.3 appointment slots daily could add $16,500 in monthly production."},
		{"poor adherence and long waits", 40, 45, 36, 180000, "Recovering about 36 appointment slots daily could add $180,000 in monthly production."},
		{"capped at the day's slots", 10, 60, 40, 200000, "Recovering about 40 appointment slots daily could add $200,000 in monthly production."},
	}

	r := ruleByID(t, RuleSchedulingInefficiency)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := quietSnapshot()
			s.Operational.ScheduleAdherence.Value = tt.adherence
			s.Operational.AvgWaitTime.Value = tt.wait
			require.True(t, r.Condition(s, model.HistoricalData{}))

			insight := r.Generate(s, model.HistoricalData{}, testNow)
			require.NotNil(t, insight)
			assert.Equal(t, tt.impact, insight.Impact)
			require.Len(t, insight.Metrics, 4)
			assert.Equal(t, tt.adherence, insight.Metrics[0].Value)
			assert.Equal(t, tt.wait, insight.Metrics[1].Value)
			assert.InDelta(t, tt.slots, insight.Metrics[2].Value, 1e-9)
			assert.InDelta(t, tt.monthly, insight.Metrics[3].Value, 1e-6)
		})
	}
}
