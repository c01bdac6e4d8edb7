package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/circuitbreaker"
	"github.com/yourorg/practice-insights/internal/insights"
	"github.com/yourorg/practice-insights/internal/validation"
)

// EnvPrefix marks environment variables that override rule parameters.
// INSIGHTS_NO_SHOW_THRESHOLD sets rules.no_show_threshold and
// INSIGHTS_BREAKER_MAX_PERCENT sets breaker.max_percent.
const EnvPrefix = "INSIGHTS_"

// RuleConfig holds the tunable business parameters of the insight engine
type RuleConfig struct {
	Rules   insights.Params           `koanf:"rules" json:"rules"`
	Breaker circuitbreaker.Thresholds `koanf:"breaker" json:"breaker"`
}

// DefaultRuleConfig returns the built-in parameters
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Rules:   insights.DefaultParams(),
		Breaker: circuitbreaker.DefaultThresholds(),
	}
}

// LoadRuleConfig layers the defaults, the optional YAML file at path and
// INSIGHTS_ environment overrides, then validates the result.
func LoadRuleConfig(path string) (RuleConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultRuleConfig(), "koanf"), nil); err != nil {
		return RuleConfig{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return RuleConfig{}, fmt.Errorf("failed to load rules file %s: %w", path, err)
		}
		logrus.WithField("path", path).Info("Loaded rule parameters")
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return RuleConfig{}, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := splitList(k, "rules.disabled_rules"); err != nil {
		return RuleConfig{}, err
	}

	var cfg RuleConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return RuleConfig{}, fmt.Errorf("failed to unmarshal rule parameters: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return cfg, nil
}

// Validate checks parameter ranges and their relations
func (c RuleConfig) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid rule parameters: %w", err)
	}
	if c.Rules.CollectionRateTarget < c.Rules.CollectionRateThreshold {
		return fmt.Errorf("invalid rule parameters: collection_rate_target %.1f is below collection_rate_threshold %.1f",
			c.Rules.CollectionRateTarget, c.Rules.CollectionRateThreshold)
	}
	if c.Rules.ChairUtilizationTarget < c.Rules.ChairUtilizationMinimum {
		return fmt.Errorf("invalid rule parameters: chair_utilization_target %.1f is below chair_utilization_minimum %.1f",
			c.Rules.ChairUtilizationTarget, c.Rules.ChairUtilizationMinimum)
	}
	if c.Breaker.MaxPercent <= 0 {
		return fmt.Errorf("invalid breaker thresholds: max_percent must be positive")
	}
	return nil
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "breaker_"); ok {
		return "breaker." + rest
	}
	return "rules." + key
}

// splitList turns a comma separated env value into a list
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if err := k.Set(path, items); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}
