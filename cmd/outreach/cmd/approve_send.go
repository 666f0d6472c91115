package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"outreach-control/internal/ledger"
	"outreach-control/internal/queue"
)

var (
	approveDraftID    string
	approveApprovedBy string
	approveReason     string
	approveTicket     string
	approveExecute    bool
	approveTo         string
	approveTracking   string
)

var approveSendCmd = &cobra.Command{
	Use:   "approve-send",
	Short: "Approve a draft for sending (two-phase)",
	Long: `Phase 1 creates a single-use approval token bound to the draft and
prints it once; only its fingerprint is ever persisted. With --execute
the approved draft is also enqueued for sending in the same gesture,
which requires --to so the policy gate has a recipient domain.`,
	RunE: runApproveSend,
}

func init() {
	approveSendCmd.Flags().StringVar(&approveDraftID, "draft", "", "Draft ID to approve (required)")
	approveSendCmd.Flags().StringVar(&approveApprovedBy, "approved-by", "", "Approver identity (required)")
	approveSendCmd.Flags().StringVar(&approveReason, "reason", "", "Why this send is approved (required)")
	approveSendCmd.Flags().StringVar(&approveTicket, "ticket", "", "Tracking ticket reference")
	approveSendCmd.Flags().BoolVar(&approveExecute, "execute", false, "Also enqueue the send")
	approveSendCmd.Flags().StringVar(&approveTo, "to", "", "Recipient address or domain (required with --execute)")
	approveSendCmd.Flags().StringVar(&approveTracking, "tracking-id", "", "Tracking ID for the draft (required with --execute)")
	approveSendCmd.MarkFlagRequired("draft")
	approveSendCmd.MarkFlagRequired("approved-by")
	approveSendCmd.MarkFlagRequired("reason")

	rootCmd.AddCommand(approveSendCmd)
}

func runApproveSend(cmd *cobra.Command, args []string) error {
	if approveExecute && (approveTo == "" || approveTracking == "") {
		return fmt.Errorf("--execute requires --to and --tracking-id")
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	approvals, err := e.openApprovals()
	if err != nil {
		return err
	}
	events, err := e.openLedger()
	if err != nil {
		return err
	}

	token, record, err := approvals.Create(approveDraftID, approveApprovedBy, approveReason, approveTicket)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}

	audit := ledger.NewEvent(ledger.EventApprovalCreated, approveTracking)
	audit.Meta = map[string]any{
		"draft_id":             approveDraftID,
		"approval_fingerprint": record.Fingerprint,
		"approved_by":          approveApprovedBy,
		"reason":               approveReason,
	}
	if approveTicket != "" {
		audit.Meta["ticket"] = approveTicket
	}
	if err := events.Append(audit); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	out := map[string]any{
		"draft_id":             approveDraftID,
		"approval_token":       token,
		"approval_fingerprint": record.Fingerprint,
		"enqueued":             false,
	}

	if approveExecute {
		store, err := e.openQueue()
		if err != nil {
			return err
		}
		if existing := store.FindByDraftID(approveDraftID); existing != nil {
			return fmt.Errorf("draft %s already has job %s (%s)", approveDraftID, existing.JobID, existing.Status)
		}

		job := queue.NewSendJob(approveDraftID, approveTracking, domainOnly(approveTo), record.Fingerprint)
		if err := store.Save(job); err != nil {
			return fmt.Errorf("failed to enqueue send job: %w", err)
		}
		out["enqueued"] = true
		out["job_id"] = job.JobID
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(out)
	}

	e.formatter.PrintSuccess(fmt.Sprintf("Draft %s approved by %s", approveDraftID, approveApprovedBy))
	// The raw token is shown exactly once and never stored
	fmt.Printf("Approval token: %s (fingerprint %s)\n", token, record.Fingerprint)
	if approveExecute {
		e.formatter.PrintInfo(fmt.Sprintf("Send job %s enqueued", out["job_id"]))
	}
	return nil
}

// domainOnly strips everything before an @ so only the domain is
// persisted in the queue.
func domainOnly(to string) string {
	if at := strings.LastIndex(to, "@"); at >= 0 {
		return strings.ToLower(to[at+1:])
	}
	return strings.ToLower(to)
}
