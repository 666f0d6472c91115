// Package cmd implements the operator verbs of the outreach control
// plane. Every verb supports --json and writes an audit event before
// it changes anything.
package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"outreach-control/internal/approval"
	"outreach-control/internal/cli"
	"outreach-control/internal/config"
	"outreach-control/internal/experiment"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
)

var (
	configFile string
	jsonOut    bool
	format     string
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Operator CLI for the outbound email control plane",
	Long: `Outreach Control CLI

Operator verbs for the outbound email reliability plane: stop and
resume sending, inspect queue and kill-switch state, approve sends,
manage experiments and run safety evaluations.

All state lives in local files (NDJSON ledgers, a queue snapshot file,
a kill-switch JSON and a SQLite approval registry); the paths come
from the environment or an optional config file.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	fang.Execute(context.Background(), rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (optional)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (minimal output)")
}

// env bundles everything a verb may need; fields are opened lazily by
// the helpers below and closed by cleanup.
type env struct {
	cfg       *config.Config
	formatter *cli.OutputFormatter

	events    *ledger.Store
	proposals *ledger.Store
	store     *queue.Store
	ks        *killswitch.Switch
	approvals *approval.Registry
	registry  *experiment.Registry

	closers []func() error
}

func newEnv() (*env, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:       cfg,
		formatter: cli.NewOutputFormatter(cli.ParseFormat(jsonOut, format), quiet),
	}, nil
}

func (e *env) cleanup() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *env) openLedger() (*ledger.Store, error) {
	if e.events != nil {
		return e.events, nil
	}
	store, err := ledger.Open(e.cfg.Paths.MetricsStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics ledger: %w", err)
	}
	e.events = store
	e.closers = append(e.closers, store.Close)
	return store, nil
}

func (e *env) openProposals() (*ledger.Store, error) {
	if e.proposals != nil {
		return e.proposals, nil
	}
	store, err := ledger.Open(e.cfg.Paths.ProposalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to open proposal ledger: %w", err)
	}
	e.proposals = store
	e.closers = append(e.closers, store.Close)
	return store, nil
}

func (e *env) openQueue() (*queue.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	store, err := queue.Open(e.cfg.Paths.SendQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to open send queue: %w", err)
	}
	e.store = store
	e.closers = append(e.closers, store.Close)
	return store, nil
}

func (e *env) killSwitch() *killswitch.Switch {
	if e.ks == nil {
		e.ks = killswitch.New(e.cfg.Paths.KillSwitch)
	}
	return e.ks
}

func (e *env) openApprovals() (*approval.Registry, error) {
	if e.approvals != nil {
		return e.approvals, nil
	}
	reg, err := approval.OpenRegistry(e.cfg.Paths.ApprovalDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval registry: %w", err)
	}
	e.approvals = reg
	e.closers = append(e.closers, reg.Close)
	return reg, nil
}

func (e *env) openExperiments() (*experiment.Registry, error) {
	if e.registry != nil {
		return e.registry, nil
	}
	reg, err := experiment.LoadRegistry(e.cfg.Paths.Experiments)
	if err != nil {
		return nil, err
	}
	e.registry = reg
	return reg, nil
}

func (e *env) gate() *policy.Gate {
	return policy.NewGate(policy.Config{
		EnableAutoSend:   e.cfg.Policy.EnableAutoSend,
		KillSwitch:       e.cfg.Policy.KillSwitch,
		AllowlistDomains: e.cfg.Policy.AllowlistDomains,
		AllowlistEmails:  e.cfg.Policy.AllowlistEmails,
		MaxPerDay:        e.cfg.Policy.MaxPerDay,
	})
}
