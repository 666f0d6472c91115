package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"outreach-control/internal/ledger"
	"outreach-control/internal/notify"
)

var (
	stopReason string
	stopSetBy  string
)

var stopSendCmd = &cobra.Command{
	Use:   "stop-send",
	Short: "Activate the runtime kill switch",
	Long: `Stops all automated sending by activating the file-backed runtime
kill switch. In-flight provider calls finish; no new job is leased.
Resumption is always manual (resume-send).`,
	RunE: runStopSend,
}

var resumeSendCmd = &cobra.Command{
	Use:   "resume-send",
	Short: "Deactivate the runtime kill switch",
	RunE:  runResumeSend,
}

func init() {
	stopSendCmd.Flags().StringVar(&stopReason, "reason", "", "Why sending is being stopped (required)")
	stopSendCmd.Flags().StringVar(&stopSetBy, "set-by", "", "Operator identity (required)")
	stopSendCmd.MarkFlagRequired("reason")
	stopSendCmd.MarkFlagRequired("set-by")

	resumeSendCmd.Flags().StringVar(&stopReason, "reason", "", "Why sending is being resumed (required)")
	resumeSendCmd.Flags().StringVar(&stopSetBy, "set-by", "", "Operator identity (required)")
	resumeSendCmd.MarkFlagRequired("reason")
	resumeSendCmd.MarkFlagRequired("set-by")

	rootCmd.AddCommand(stopSendCmd)
	rootCmd.AddCommand(resumeSendCmd)
}

func runStopSend(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	events, err := e.openLedger()
	if err != nil {
		return err
	}

	ks := e.killSwitch()
	if err := ks.SetEnabled(stopReason, stopSetBy); err != nil {
		return fmt.Errorf("failed to activate kill switch: %w", err)
	}

	event := ledger.NewEvent(ledger.EventOpsStopSend, "")
	event.Meta = map[string]any{"reason": stopReason, "set_by": stopSetBy}
	if err := events.Append(event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	notifier(e).OpsStop(stopReason, stopSetBy)

	state, err := ks.Get()
	if err != nil {
		return err
	}
	e.formatter.PrintSuccess("Sending stopped")
	return e.formatter.PrintKillSwitch(state)
}

func runResumeSend(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	events, err := e.openLedger()
	if err != nil {
		return err
	}

	ks := e.killSwitch()
	if err := ks.SetDisabled(stopReason, stopSetBy); err != nil {
		return fmt.Errorf("failed to deactivate kill switch: %w", err)
	}

	event := ledger.NewEvent(ledger.EventOpsResumeSend, "")
	event.Meta = map[string]any{"reason": stopReason, "set_by": stopSetBy}
	if err := events.Append(event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	notifier(e).OpsResume(stopSetBy)

	state, err := ks.Get()
	if err != nil {
		return err
	}
	e.formatter.PrintSuccess("Sending resumed")
	return e.formatter.PrintKillSwitch(state)
}

func notifier(e *env) *notify.Notifier {
	return notify.New(e.cfg.SlackWebhookURL, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}
