package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"outreach-control/internal/killswitch"
	"outreach-control/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"stop-status"},
	Short:   "Show kill-switch, gate and queue state",
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the combined JSON output of the status verb
type statusReport struct {
	SendingEnabled bool              `json:"sending_enabled"`
	KillSwitch     *killswitch.State `json:"kill_switch"`
	Queue          *queue.Stats      `json:"queue"`
	LedgerEvents   int               `json:"ledger_events"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	store, err := e.openQueue()
	if err != nil {
		return err
	}
	events, err := e.openLedger()
	if err != nil {
		return err
	}

	state, err := e.killSwitch().Get()
	if err != nil {
		return fmt.Errorf("failed to read kill switch: %w", err)
	}

	report := statusReport{
		SendingEnabled: e.gate().IsSendingEnabled() && !state.Enabled,
		KillSwitch:     state,
		Queue:          store.GetStats(time.Now().UTC()),
		LedgerEvents:   events.Len(),
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(report)
	}

	if err := e.formatter.PrintKillSwitch(state); err != nil {
		return err
	}
	fmt.Println()
	return e.formatter.PrintQueueStats(report.Queue)
}
