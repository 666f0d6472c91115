package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"outreach-control/internal/experiment"
)

var reportExperiment string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate the metrics ledger into an experiment report",
	RunE:  runReport,
}

var safetyExperiment string

var safetyCmd = &cobra.Command{
	Use:   "safety",
	Short: "Run the safety evaluation for an experiment",
	Long: `Aggregates the ledger for the experiment and applies its rollback
rules, printing one of ok, freeze_recommended, rollback_recommended or
review_recommended with reasons.`,
	RunE: runSafety,
}

func init() {
	reportCmd.Flags().StringVar(&reportExperiment, "experiment", "", "Experiment ID (required)")
	reportCmd.MarkFlagRequired("experiment")

	safetyCmd.Flags().StringVar(&safetyExperiment, "experiment", "", "Experiment ID (required)")
	safetyCmd.MarkFlagRequired("experiment")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(safetyCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	metrics, _, err := aggregateExperiment(e, reportExperiment)
	if err != nil {
		return err
	}
	return e.formatter.PrintMetrics(metrics)
}

func runSafety(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	metrics, cfg, err := aggregateExperiment(e, safetyExperiment)
	if err != nil {
		return err
	}

	result := experiment.EvaluateSafety(cfg, metrics)
	return e.formatter.PrintSafety(result)
}

func aggregateExperiment(e *env, experimentID string) (*experiment.Metrics, *experiment.Config, error) {
	registry, err := e.openExperiments()
	if err != nil {
		return nil, nil, err
	}
	cfg := registry.Get(experimentID)
	if cfg == nil {
		return nil, nil, fmt.Errorf("experiment %q not found", experimentID)
	}

	events, err := e.openLedger()
	if err != nil {
		return nil, nil, err
	}

	return experiment.Aggregate(cfg, events.AllEvents(), time.Now().UTC()), cfg, nil
}
