// Package main is the entry point for the practice insights service. It folds
// practice-management changes into realtime metrics and turns periodic metric
// snapshots into ranked insights.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/practice-insights/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "practice-insights",
	Short:         "Realtime practice metrics and insight generation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		setupLogging(cfg.LogFormat, cfg.LogLevel)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, rulesCmd, publishChangeCmd)
}

// main is the entry point for the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
