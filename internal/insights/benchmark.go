package insights

import (
	"fmt"
	"sort"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

func benchmarkInsights(p Params, report model.BenchmarkReport, now time.Time) []model.Insight {
	out := strengthInsights(p, report.Strengths, now)
	return append(out, opportunityInsights(p, report, now)...)
}

// strengthInsights turns the highest ranked strengths into achievements.
func strengthInsights(p Params, strengths []model.BenchmarkData, now time.Time) []model.Insight {
	top := make([]model.BenchmarkData, 0, len(strengths))
	for _, s := range strengths {
		if s.PercentileRank >= p.StrengthPercentile {
			top = append(top, s)
		}
	}
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].PercentileRank > top[j].PercentileRank
	})
	if len(top) > p.BenchmarkLimit {
		top = top[:p.BenchmarkLimit]
	}

	out := make([]model.Insight, 0, len(top))
	for _, s := range top {
		name := metricName(s.Metric)
		out = append(out, model.Insight{
			Type:     model.InsightAchievement,
			Priority: model.PriorityLow,
			Category: benchmarkCategory(s.Category),
			Title:    "Leading in " + name,
			Description: fmt.Sprintf("Your %s of %s%s ranks in the %sth percentile.",
				name, formatNumber(s.PracticeValue), s.Unit, formatNumber(s.PercentileRank)),
			Impact: fmt.Sprintf("You're outperforming %s%% of similar practices.", formatNumber(s.PercentileRank)),
			Metrics: []model.InsightMetric{
				{Name: name, Value: s.PracticeValue, Unit: s.Unit},
				{Name: "Industry Average", Value: s.IndustryAverage, Unit: s.Unit},
				{Name: "Percentile Rank", Value: s.PercentileRank, Unit: "percentile"},
			},
			Actions: []model.InsightAction{
				{Text: "Share Achievement", Type: model.ActionPrimary},
			},
			Timestamp: now,
		})
	}
	return out
}

// opportunityInsights ranks below-median opportunities by dollar impact.
// Opportunities without a matching benchmark row are kept.
func opportunityInsights(p Params, report model.BenchmarkReport, now time.Time) []model.Insight {
	rows := make(map[string]model.BenchmarkData, len(report.Weaknesses)+len(report.Strengths))
	for _, s := range report.Strengths {
		rows[s.Metric] = s
	}
	for _, w := range report.Weaknesses {
		rows[w.Metric] = w
	}

	ranked := make([]model.Opportunity, 0, len(report.Opportunities))
	for _, o := range report.Opportunities {
		if row, ok := rows[o.Metric]; ok && row.PercentileRank >= p.OpportunityPercentile {
			continue
		}
		ranked = append(ranked, o)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PotentialImpact > ranked[j].PotentialImpact
	})
	if len(ranked) > p.BenchmarkLimit {
		ranked = ranked[:p.BenchmarkLimit]
	}

	out := make([]model.Insight, 0, len(ranked))
	for _, o := range ranked {
		name := metricName(o.Metric)
		category, unit := model.InsightOperational, "%"
		if c, ok := metricCategories[o.Metric]; ok {
			category = c
		}
		if row, ok := rows[o.Metric]; ok {
			category = benchmarkCategory(row.Category)
			if row.Unit != "" {
				unit = row.Unit
			}
		}

		priority := model.PriorityMedium
		if o.PotentialImpact > p.HighImpactThreshold {
			priority = model.PriorityHigh
		}

		impact := fmt.Sprintf("Closing the gap is worth about %s a year.", formatCurrency(o.PotentialImpact))
		if len(o.RecommendedActions) > 0 {
			impact = fmt.Sprintf("%s (worth about %s a year)", o.RecommendedActions[0], formatCurrency(o.PotentialImpact))
		}

		out = append(out, model.Insight{
			Type:     model.InsightOpportunity,
			Priority: priority,
			Category: category,
			Title:    "Opportunity: Improve " + name,
			Description: fmt.Sprintf("Reaching the %sth percentile in %s could generate %s annually.",
				formatNumber(p.StrengthPercentile), name, formatCurrency(o.PotentialImpact)),
			Impact: impact,
			Metrics: []model.InsightMetric{
				{Name: "Current", Value: o.CurrentValue, Unit: unit},
				{Name: "Target", Value: o.TargetValue, Unit: unit},
				{Name: "Potential Impact", Value: o.PotentialImpact, Unit: "$"},
			},
			Actions:   opportunityActions(o.RecommendedActions),
			Timestamp: now,
		})
	}
	return out
}

func opportunityActions(recommended []string) []model.InsightAction {
	if len(recommended) == 0 {
		return []model.InsightAction{{Text: "Review Benchmarks", Type: model.ActionPrimary, Link: "/analytics/benchmarks"}}
	}
	if len(recommended) > 2 {
		recommended = recommended[:2]
	}
	actions := make([]model.InsightAction, 0, len(recommended))
	for i, text := range recommended {
		t := model.ActionSecondary
		if i == 0 {
			t = model.ActionPrimary
		}
		actions = append(actions, model.InsightAction{Text: text, Type: t})
	}
	return actions
}
