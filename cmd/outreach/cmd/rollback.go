package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"outreach-control/internal/experiment"
	"outreach-control/internal/ledger"
)

var (
	rollbackExperiment string
	rollbackReason     string
	rollbackSetBy      string
	rollbackAlsoStop   bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "End an experiment and optionally stop all sending",
	Long: `Marks the experiment ended in the registry and records an audit
event. With --also-stop-send the runtime kill switch is activated in
the same gesture.`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackExperiment, "experiment", "", "Experiment ID (required)")
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Why the experiment is rolled back (required)")
	rollbackCmd.Flags().StringVar(&rollbackSetBy, "set-by", "", "Operator identity (required)")
	rollbackCmd.Flags().BoolVar(&rollbackAlsoStop, "also-stop-send", false, "Also activate the runtime kill switch")
	rollbackCmd.MarkFlagRequired("experiment")
	rollbackCmd.MarkFlagRequired("reason")
	rollbackCmd.MarkFlagRequired("set-by")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	registry, err := e.openExperiments()
	if err != nil {
		return err
	}

	cfg := registry.Get(rollbackExperiment)
	if cfg == nil {
		return fmt.Errorf("experiment %q not found", rollbackExperiment)
	}

	events, err := e.openLedger()
	if err != nil {
		return err
	}

	cfg.Status = experiment.StatusEnded
	if err := registry.Save(); err != nil {
		return fmt.Errorf("failed to save experiment registry: %w", err)
	}

	event := ledger.NewEvent(ledger.EventRollback, "")
	event.Meta = map[string]any{
		"experiment_id": rollbackExperiment,
		"reason":        rollbackReason,
		"set_by":        rollbackSetBy,
	}
	if err := events.Append(event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	if rollbackAlsoStop {
		reason := fmt.Sprintf("Rollback of %s: %s", rollbackExperiment, rollbackReason)
		if err := e.killSwitch().SetEnabled(reason, rollbackSetBy); err != nil {
			return fmt.Errorf("failed to activate kill switch: %w", err)
		}
		stop := ledger.NewEvent(ledger.EventOpsStopSend, "")
		stop.Meta = map[string]any{"reason": reason, "set_by": rollbackSetBy}
		if err := events.Append(stop); err != nil {
			return fmt.Errorf("failed to append stop event: %w", err)
		}
		notifier(e).OpsStop(reason, rollbackSetBy)
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(map[string]any{
			"experiment_id": rollbackExperiment,
			"status":        string(cfg.Status),
			"stopped_send":  rollbackAlsoStop,
		})
	}

	e.formatter.PrintSuccess(fmt.Sprintf("Experiment %s rolled back", rollbackExperiment))
	if rollbackAlsoStop {
		e.formatter.PrintInfo("Runtime kill switch activated")
	}
	return nil
}
