package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/realtime"
)

// aggregatorService runs the realtime aggregator under the supervisor and
// forwards every aggregate to the live stream.
type aggregatorService struct {
	aggregator *realtime.Aggregator
	publish    func(model.MetricEvent)
}

func (s *aggregatorService) Serve(ctx context.Context) error {
	if s.publish != nil {
		for _, rule := range s.aggregator.Rules() {
			sub := s.aggregator.SubscribeToMetric(rule.MetricID, s.publish)
			defer sub.Unsubscribe()
		}
	}

	if err := s.aggregator.StartRealtimeSubscriptions(ctx); err != nil {
		return fmt.Errorf("start realtime aggregation: %w", err)
	}

	<-ctx.Done()
	s.aggregator.StopRealtimeSubscriptions()
	return ctx.Err()
}

func (s *aggregatorService) String() string {
	return "realtime-aggregator"
}

// insightSource is the part of the generator the poller drives
type insightSource interface {
	GenerateInsights(ctx context.Context) []model.Insight
	SubscribeToInsights(ctx context.Context, cb func([]model.Insight)) func()
}

// insightPoller runs an insight cycle at startup and then on the generator's
// poll interval, handing new insights to every sink.
type insightPoller struct {
	generator insightSource
	sinks     []func([]model.Insight)
}

func (p *insightPoller) Serve(ctx context.Context) error {
	p.deliver(p.generator.GenerateInsights(ctx))

	unsubscribe := p.generator.SubscribeToInsights(ctx, p.deliver)
	<-ctx.Done()
	unsubscribe()
	return ctx.Err()
}

func (p *insightPoller) deliver(insights []model.Insight) {
	if len(insights) == 0 {
		return
	}
	logrus.WithField("count", len(insights)).Info("New insights generated")
	for _, sink := range p.sinks {
		sink(insights)
	}
}

func (p *insightPoller) String() string {
	return "insight-poller"
}
