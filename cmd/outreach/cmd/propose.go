package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"outreach-control/internal/experiment"
	"outreach-control/internal/ledger"
)

var (
	proposeExperiment string
	proposeTemplates  []string
	proposeBy         string
	proposeReason     string
	proposeMinSent    int

	promoteExperiment string
	promoteBy         string

	approveExperiment string
	approveBy         string
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a new experiment (draft state)",
	Long: `Registers a draft experiment in experiments.json and records a
PROPOSAL_CREATED event in the proposal audit stream. Templates are
given as template_id:variant pairs.`,
	RunE: runPropose,
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a proposed experiment",
	RunE:  runApprove,
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote an approved experiment to running",
	Long: `Moves a proposed experiment to the running state. Promotion is
blocked until the proposal has been approved.`,
	RunE: runPromote,
}

func init() {
	proposeCmd.Flags().StringVar(&proposeExperiment, "experiment", "", "Experiment ID (required)")
	proposeCmd.Flags().StringSliceVar(&proposeTemplates, "template", nil, "template_id:variant pair (repeatable, required)")
	proposeCmd.Flags().StringVar(&proposeBy, "proposed-by", "", "Proposer identity (required)")
	proposeCmd.Flags().StringVar(&proposeReason, "reason", "", "Why this experiment is proposed (required)")
	proposeCmd.Flags().IntVar(&proposeMinSent, "min-sent-per-variant", 30, "Minimum sends per variant before decisions")
	proposeCmd.MarkFlagRequired("experiment")
	proposeCmd.MarkFlagRequired("template")
	proposeCmd.MarkFlagRequired("proposed-by")
	proposeCmd.MarkFlagRequired("reason")

	approveCmd.Flags().StringVar(&approveExperiment, "experiment", "", "Experiment ID (required)")
	approveCmd.Flags().StringVar(&approveBy, "approved-by", "", "Approver identity (required)")
	approveCmd.MarkFlagRequired("experiment")
	approveCmd.MarkFlagRequired("approved-by")

	promoteCmd.Flags().StringVar(&promoteExperiment, "experiment", "", "Experiment ID (required)")
	promoteCmd.Flags().StringVar(&promoteBy, "promoted-by", "", "Operator identity (required)")
	promoteCmd.MarkFlagRequired("experiment")
	promoteCmd.MarkFlagRequired("promoted-by")

	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(promoteCmd)
}

func runPropose(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	registry, err := e.openExperiments()
	if err != nil {
		return err
	}
	if registry.Get(proposeExperiment) != nil {
		return fmt.Errorf("experiment %q already exists", proposeExperiment)
	}

	templates, err := parseTemplatePairs(proposeTemplates)
	if err != nil {
		return err
	}

	cfg := experiment.Config{
		ExperimentID:      proposeExperiment,
		Status:            experiment.StatusDraft,
		Templates:         templates,
		DecisionRule:      experiment.DecisionRule{Alpha: 0.05, MinLift: 0.1},
		MinSentPerVariant: proposeMinSent,
		RollbackRule: experiment.RollbackRule{
			MinSentTotal:   proposeMinSent,
			MaxDaysNoReply: 7,
			MinReplyRate:   0.02,
		},
	}
	registry.Upsert(cfg)
	if err := registry.Save(); err != nil {
		return fmt.Errorf("failed to save experiment registry: %w", err)
	}

	if err := appendProposalEvent(e, ledger.EventProposalCreated, proposeExperiment, map[string]any{
		"proposed_by": proposeBy,
		"reason":      proposeReason,
		"templates":   proposeTemplates,
	}); err != nil {
		return err
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(cfg)
	}
	e.formatter.PrintSuccess(fmt.Sprintf("Experiment %s proposed (draft)", proposeExperiment))
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	registry, err := e.openExperiments()
	if err != nil {
		return err
	}
	cfg := registry.Get(approveExperiment)
	if cfg == nil {
		return fmt.Errorf("experiment %q not found", approveExperiment)
	}
	if cfg.Status != experiment.StatusDraft {
		return fmt.Errorf("experiment %q is %s, only drafts can be approved", approveExperiment, cfg.Status)
	}

	proposals, err := e.openProposals()
	if err != nil {
		return err
	}
	if !proposals.HasEvent(approveExperiment, ledger.EventProposalCreated) {
		return fmt.Errorf("experiment %q has no recorded proposal", approveExperiment)
	}

	if err := appendProposalEvent(e, ledger.EventProposalApproved, approveExperiment, map[string]any{
		"approved_by": approveBy,
	}); err != nil {
		return err
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(map[string]any{
			"experiment_id": approveExperiment,
			"approved_by":   approveBy,
		})
	}
	e.formatter.PrintSuccess(fmt.Sprintf("Experiment %s approved", approveExperiment))
	return nil
}

func runPromote(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	registry, err := e.openExperiments()
	if err != nil {
		return err
	}
	cfg := registry.Get(promoteExperiment)
	if cfg == nil {
		return fmt.Errorf("experiment %q not found", promoteExperiment)
	}
	if cfg.Status == experiment.StatusRunning {
		return fmt.Errorf("experiment %q is already running", promoteExperiment)
	}

	proposals, err := e.openProposals()
	if err != nil {
		return err
	}
	if !proposals.HasEvent(promoteExperiment, ledger.EventProposalApproved) {
		return fmt.Errorf("experiment %q has not been approved", promoteExperiment)
	}

	cfg.Status = experiment.StatusRunning
	cfg.StartAt = time.Now().UTC()
	if err := registry.Save(); err != nil {
		return fmt.Errorf("failed to save experiment registry: %w", err)
	}

	if err := appendProposalEvent(e, ledger.EventProposalPromoted, promoteExperiment, map[string]any{
		"promoted_by": promoteBy,
	}); err != nil {
		return err
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(cfg)
	}
	e.formatter.PrintSuccess(fmt.Sprintf("Experiment %s promoted to running", promoteExperiment))
	return nil
}

func appendProposalEvent(e *env, eventType ledger.EventType, experimentID string, meta map[string]any) error {
	proposals, err := e.openProposals()
	if err != nil {
		return err
	}
	event := ledger.NewEvent(eventType, experimentID)
	event.Meta = meta
	if err := proposals.Append(event); err != nil {
		return fmt.Errorf("failed to append proposal event: %w", err)
	}
	return nil
}

func parseTemplatePairs(pairs []string) ([]experiment.TemplateRef, error) {
	if len(pairs) < 2 {
		return nil, fmt.Errorf("an experiment needs at least two template:variant pairs")
	}

	templates := make([]experiment.TemplateRef, 0, len(pairs))
	seen := make(map[string]bool)
	for _, pair := range pairs {
		id, variant, ok := strings.Cut(pair, ":")
		if !ok || id == "" || variant == "" {
			return nil, fmt.Errorf("invalid template pair %q, want template_id:variant", pair)
		}
		if seen[variant] {
			return nil, fmt.Errorf("duplicate variant %q", variant)
		}
		seen[variant] = true
		templates = append(templates, experiment.TemplateRef{TemplateID: id, Variant: variant})
	}
	return templates, nil
}
