package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/practice-insights/internal/insights"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANALYTICS_URL", "http://analytics.local/")
	t.Setenv("INSIGHT_POLL_INTERVAL", "15s")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://analytics.local", cfg.AnalyticsURL)
	assert.Equal(t, 15*time.Second, cfg.InsightPollInterval)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestLoadRuleConfigDefaults(t *testing.T) {
	cfg, err := LoadRuleConfig("")
	require.NoError(t, err)
	defaults := insights.DefaultParams()
	assert.Equal(t, defaults.NoShowThreshold, cfg.Rules.NoShowThreshold)
	assert.Equal(t, defaults.MilestoneLifetime, cfg.Rules.MilestoneLifetime)
	assert.Equal(t, defaults.ForecastDays, cfg.Rules.ForecastDays)
	assert.Empty(t, cfg.Rules.DisabledRules)
	assert.Equal(t, 100.0, cfg.Breaker.MaxPercent)
}

func TestLoadRuleConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  no_show_threshold: 12
  avg_appointment_value: 300
  milestone_lifetime: 72h
  disabled_rules:
    - implant_success_benchmark
breaker:
  max_production_change: 0.5
`), 0o600))

	t.Setenv("INSIGHTS_AVG_APPOINTMENT_VALUE", "275")
	t.Setenv("INSIGHTS_BREAKER_MIN_POPULATED_METRICS", "3")

	cfg, err := LoadRuleConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12.0, cfg.Rules.NoShowThreshold)
	assert.Equal(t, 275.0, cfg.Rules.AvgAppointmentValue, "env overrides the file")
	assert.Equal(t, 72*time.Hour, cfg.Rules.MilestoneLifetime)
	assert.Equal(t, []string{insights.RuleImplantSuccessBenchmark}, cfg.Rules.DisabledRules)
	assert.Equal(t, 850.0, cfg.Rules.PatientAnnualValue, "untouched values keep their defaults")
	assert.Equal(t, 0.5, cfg.Breaker.MaxProductionChange)
	assert.Equal(t, 3, cfg.Breaker.MinPopulatedMetrics)
}

func TestLoadRuleConfigEnvList(t *testing.T) {
	t.Setenv("INSIGHTS_DISABLED_RULES", "high_no_show_rate, new_patient_surge,")

	cfg, err := LoadRuleConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{insights.RuleHighNoShowRate, insights.RuleNewPatientSurge}, cfg.Rules.DisabledRules)
}

func TestLoadRuleConfigRejectsInvalid(t *testing.T) {
	t.Setenv("INSIGHTS_COLLECTION_RECOVERY_RATE", "1.5")
	_, err := LoadRuleConfig("")
	assert.ErrorContains(t, err, "CollectionRecoveryRate")
}

func TestRuleConfigValidateRelations(t *testing.T) {
	cfg := DefaultRuleConfig()
	require.NoError(t, cfg.Validate())

	cfg.Rules.ChairUtilizationTarget = 50
	assert.ErrorContains(t, cfg.Validate(), "chair_utilization_target")
}

func TestLoadRuleConfigMissingFile(t *testing.T) {
	_, err := LoadRuleConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
