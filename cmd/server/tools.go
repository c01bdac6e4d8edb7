package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/practice-insights/internal/changefeed"
	"github.com/yourorg/practice-insights/internal/config"
	"github.com/yourorg/practice-insights/internal/insights"
	"github.com/yourorg/practice-insights/internal/model"
)

var (
	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Print the insight rules and effective parameters",
		RunE:  runRules,
	}

	publishChangeCmd = &cobra.Command{
		Use:   "publish-change",
		Short: "Publish a row change to the change feed",
		RunE:  runPublishChange,
	}

	// Flags
	rulesJSON   bool
	changeTable string
	changeType  string
	changeNew   string
	changeOld   string
)

func init() {
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "Print parameters as JSON")

	publishChangeCmd.Flags().StringVar(&changeTable, "table", "", "Table name (appointments, billings, patients, operatory_status)")
	publishChangeCmd.Flags().StringVar(&changeType, "type", string(model.EventUpdate), "Event type (INSERT, UPDATE, DELETE)")
	publishChangeCmd.Flags().StringVar(&changeNew, "new", "", "New row image as JSON")
	publishChangeCmd.Flags().StringVar(&changeOld, "old", "", "Old row image as JSON")
	_ = publishChangeCmd.MarkFlagRequired("table")
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	rules, err := config.LoadRuleConfig(cfg.RulesConfig)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rulesJSON {
		data, err := json.MarshalIndent(rules, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	registry := insights.NewGenerator(cfg.PracticeID, insights.Deps{}, rules.Rules).Registry()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFREQUENCY\tENABLED")
	for _, rule := range registry.Rules() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", rule.ID(), rule.Name(), rule.Frequency(), registry.IsEnabled(rule.ID()))
	}
	return w.Flush()
}

func runPublishChange(cmd *cobra.Command, args []string) error {
	change, err := buildChange(changeTable, changeType, changeNew, changeOld)
	if err != nil {
		return err
	}

	cfg := config.Load()
	natsCfg := changefeed.DefaultNATSConfig(cfg.NATSURL)
	natsCfg.TopicPrefix = cfg.ChangeTopicPrefix
	natsCfg.StreamName = cfg.ChangeStream

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := changefeed.ProvisionStream(ctx, natsCfg); err != nil {
		return fmt.Errorf("provision change stream: %w", err)
	}

	publisher, err := changefeed.NewNATSPublisher(natsCfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := publisher.Publish(change); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s change to %s\n", change.EventType, changefeed.Topic(natsCfg.TopicPrefix, change.Table))
	return nil
}

func buildChange(table, eventType, newRow, oldRow string) (model.Change, error) {
	known := false
	for _, t := range model.WatchedTables {
		known = known || t == table
	}
	if !known {
		logrus.WithField("table", table).Warn("Publishing to a table the aggregator does not watch")
	}

	change := model.Change{Table: table, EventType: model.EventType(eventType)}
	switch change.EventType {
	case model.EventInsert, model.EventUpdate, model.EventDelete:
	default:
		return model.Change{}, fmt.Errorf("unknown event type %q", eventType)
	}

	for _, row := range []struct {
		raw  string
		dest *json.RawMessage
		name string
	}{{newRow, &change.New, "new"}, {oldRow, &change.Old, "old"}} {
		if row.raw == "" {
			continue
		}
		if !json.Valid([]byte(row.raw)) {
			return model.Change{}, fmt.Errorf("--%s is not valid JSON", row.name)
		}
		*row.dest = json.RawMessage(row.raw)
	}

	if change.EventType != model.EventDelete && len(change.New) == 0 {
		return model.Change{}, errors.New("--new is required for INSERT and UPDATE")
	}
	return change, nil
}
