package insights

import (
	"fmt"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

// noShowForecastInsight recommends overbooking when the next-day prediction
// expects more no-shows than the configured minimum.
func noShowForecastInsight(p Params, prediction model.SchedulingPrediction, day, now time.Time) *model.Insight {
	if prediction.PredictedNoShows <= p.PredictedNoShowMinimum {
		return nil
	}
	if !prediction.Date.IsZero() {
		day = prediction.Date
	}

	return &model.Insight{
		Type:     model.InsightRecommendation,
		Priority: model.PriorityMedium,
		Category: model.InsightOperational,
		Title:    "No-Shows Predicted for Tomorrow",
		Description: fmt.Sprintf("The forecast model predicts %s no-shows for %s.",
			formatNumber(prediction.PredictedNoShows), day.Format("Monday, Jan 2")),
		Impact: fmt.Sprintf("Consider overbooking %s slots to maintain production.", formatNumber(prediction.OptimalOverbooking)),
		Metrics: []model.InsightMetric{
			{Name: "Predicted No-Shows", Value: prediction.PredictedNoShows, Unit: "patients"},
			{Name: "Recommended Overbooks", Value: prediction.OptimalOverbooking, Unit: "slots"},
		},
		Actions: []model.InsightAction{
			{Text: "Adjust Tomorrow's Schedule", Type: model.ActionPrimary, Link: "/schedule/tomorrow"},
		},
		Timestamp: now,
	}
}

// productionForecastInsight always surfaces the summed production forecast.
func productionForecastInsight(days []model.FinancialForecast, now time.Time) *model.Insight {
	if len(days) == 0 {
		return nil
	}

	total := 0.0
	for _, d := range days {
		total += d.Production.Value
	}

	return &model.Insight{
		Type:     model.InsightTrend,
		Priority: model.PriorityLow,
		Category: model.InsightFinancial,
		Title:    fmt.Sprintf("%d-Day Production Forecast", len(days)),
		Description: fmt.Sprintf("Production over the next %d days is forecasted at %s based on current scheduling and historical patterns.",
			len(days), formatCurrency(total)),
		Impact: fmt.Sprintf("A forecast of %s can anchor weekly goals and staffing adjustments.", formatCurrency(total)),
		Metrics: []model.InsightMetric{
			{Name: "Forecasted Production", Value: total, Unit: "$"},
		},
		Actions: []model.InsightAction{
			{Text: "View Detailed Forecast", Type: model.ActionPrimary, Link: "/analytics/forecast"},
		},
		Timestamp: now,
	}
}
