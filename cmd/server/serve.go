package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/practice-insights/internal/api"
	"github.com/yourorg/practice-insights/internal/changefeed"
	"github.com/yourorg/practice-insights/internal/circuitbreaker"
	"github.com/yourorg/practice-insights/internal/config"
	"github.com/yourorg/practice-insights/internal/export"
	"github.com/yourorg/practice-insights/internal/fetch"
	"github.com/yourorg/practice-insights/internal/insights"
	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/otel"
	"github.com/yourorg/practice-insights/internal/realtime"
	"github.com/yourorg/practice-insights/internal/security"
	"github.com/yourorg/practice-insights/internal/store"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime aggregator, insight engine and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.PracticeID == "" {
		return errors.New("PRACTICE_ID is required")
	}

	rules, err := config.LoadRuleConfig(cfg.RulesConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	db, err := store.Open(store.Options{Path: cfg.DataDir, HistoryTTL: cfg.HistoryTTL})
	if err != nil {
		return err
	}
	defer db.Close()

	clientOpts := fetch.DefaultOptions(cfg.AnalyticsURL, cfg.AnalyticsAPIKey, cfg.PracticeID)
	clientOpts.Timeout = cfg.RequestTimeout
	analytics := fetch.NewClient(clientOpts, metrics)

	natsCfg := changefeed.DefaultNATSConfig(cfg.NATSURL)
	natsCfg.TopicPrefix = cfg.ChangeTopicPrefix
	natsCfg.StreamName = cfg.ChangeStream
	if err := changefeed.ProvisionStream(ctx, natsCfg); err != nil {
		return fmt.Errorf("provision change stream: %w", err)
	}
	source, err := changefeed.NewNATSSource(natsCfg, metrics)
	if err != nil {
		return err
	}
	defer source.Close()

	hub := api.NewHub(metrics)

	aggregator := realtime.New(source, analytics,
		realtime.WithMetrics(metrics),
		realtime.WithAlertSink(realtime.AlertSinks{realtime.LogAlertSink{}, hub}),
		realtime.WithLookupTimeout(cfg.RequestTimeout),
		realtime.WithNoShowThreshold(rules.Rules.NoShowThreshold),
	)

	guard := circuitbreaker.New(rules.Breaker).
		WithStateCallback(func(s circuitbreaker.State) {
			metrics.BreakerState("snapshot", int(s))
		}).
		WithTripCallback(func(reason string, _ model.MetricsSnapshot) {
			logrus.WithField("reason", reason).Warn("Snapshot breaker tripped, serving last good snapshot")
		})

	generator := insights.NewGenerator(cfg.PracticeID, insights.Deps{
		Snapshots:  analytics,
		History:    analytics,
		Benchmarks: analytics,
		Forecasts:  analytics,
		Dismissals: db,
		Archive:    db,
		Guard:      guard,
	}, rules.Rules).
		WithMetrics(metrics).
		WithProviderTimeout(cfg.RequestTimeout).
		WithPollInterval(cfg.InsightPollInterval)

	signer, err := security.NewSigner(cfg.SigningKey)
	if err != nil {
		return err
	}
	exportCfg := export.DefaultConfig(cfg.WebhookURL)
	exportCfg.APIKey = cfg.WebhookAPIKey
	exportCfg.BatchSize = cfg.ExportBatch
	exportCfg.Interval = cfg.ExportInterval
	exportCfg.Timeout = cfg.RequestTimeout
	exporter := export.New(cfg.PracticeID, exportCfg, signer, metrics)

	server := api.NewServer(aggregator, generator, hub, api.Options{
		Addr:           ":" + cfg.Port,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Gatherer:       registry,
		Metrics:        metrics,
		Status: func() map[string]any {
			return map[string]any{
				"exporter":         exporter.Status(),
				"snapshot_breaker": guard.GetState().String(),
				"signer":           signer.Address(),
			}
		},
	})

	tree := newSupervisorTree(10 * time.Second)
	tree.data.Add(db)
	tree.messaging.Add(&aggregatorService{aggregator: aggregator, publish: hub.BroadcastMetric})
	tree.messaging.Add(&insightPoller{
		generator: generator,
		sinks:     []func([]model.Insight){hub.BroadcastInsights, exporter.Add},
	})
	tree.messaging.Add(exporter)
	tree.api.Add(hub)
	tree.api.Add(server)

	logrus.WithFields(logrus.Fields{
		"practice": cfg.PracticeID,
		"port":     cfg.Port,
		"rules":    len(generator.Registry().EnabledRules()),
	}).Info("Practice insights starting")

	err = tree.root.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		logrus.Info("Practice insights stopped")
		return nil
	}
	return err
}
