package insights

import (
	"context"
	"time"

	"github.com/yourorg/practice-insights/internal/model"
)

// SnapshotProvider computes the dashboard metrics for a day.
type SnapshotProvider interface {
	CalculateAllMetrics(ctx context.Context, date time.Time) (model.MetricsSnapshot, error)
}

// HistoricalProvider returns production and appointment history since a point in time.
type HistoricalProvider interface {
	GetHistoricalData(ctx context.Context, since time.Time) (model.HistoricalData, error)
}

// BenchmarkProvider ranks the practice against its peers.
type BenchmarkProvider interface {
	GenerateBenchmarkReport(ctx context.Context) (model.BenchmarkReport, error)
}

// ForecastProvider produces scheduling and financial forecasts.
type ForecastProvider interface {
	PredictSchedulingOptimization(ctx context.Context, date time.Time) (model.SchedulingPrediction, error)
	ForecastFinancialMetrics(ctx context.Context, days int) ([]model.FinancialForecast, error)
}

// DismissalStore persists insight dismissals.
type DismissalStore interface {
	RecordDismissal(ctx context.Context, practiceID, insightID string, at time.Time) error
}

// HistoryStore persists generated insights.
type HistoryStore interface {
	AppendInsights(ctx context.Context, practiceID string, insights []model.Insight) error
	ListInsights(ctx context.Context, practiceID string, since time.Time) ([]model.Insight, error)
}

// SnapshotGuard rejects implausible snapshots and remembers the last one it accepted.
type SnapshotGuard interface {
	Check(snapshot model.MetricsSnapshot) error
	LastGood() (model.MetricsSnapshot, bool)
}

// Deps are the collaborators of a Generator. Any of them may be nil; a missing
// provider contributes nothing to a cycle.
type Deps struct {
	Snapshots  SnapshotProvider
	History    HistoricalProvider
	Benchmarks BenchmarkProvider
	Forecasts  ForecastProvider
	Dismissals DismissalStore
	Archive    HistoryStore
	Guard      SnapshotGuard
}
