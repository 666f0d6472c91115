// Command sendmand runs the send control plane as a long-lived
// service: dispatcher, stale-lease reaper, Gmail reconciler and the
// auto-stop controller in one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"outreach-control/internal/approval"
	"outreach-control/internal/config"
	"outreach-control/internal/gmail"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/notify"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
	"outreach-control/internal/reconcile"
	"outreach-control/internal/retry"
	"outreach-control/internal/workers"
)

const Version = "1.0.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sendmand",
	Short: "Outbound send dispatcher service",
	Long: `sendmand runs the background workers of the outreach control plane:

    dispatcher  - leases ready jobs and calls the mail provider
    reaper      - reclaims stale in_progress leases
    reconciler  - detects sent mail and replies in the provider
    auto-stop   - flips the kill switch on sustained bad metrics

Exactly one sendmand process may run against a given queue file.

CONFIGURATION:
    All configuration comes from environment variables (see the
    project README) or an optional config file passed with --config.
    The reaper section additionally reads send_queue.json.`,
	Version: Version,
	RunE:    runService,
}

func main() {
	fang.Execute(context.Background(), rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (optional)")
}

func runService(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Starting sendmand", "version", Version)

	events, err := ledger.Open(cfg.Paths.MetricsStore)
	if err != nil {
		return fmt.Errorf("failed to open metrics ledger: %w", err)
	}
	defer events.Close()

	store, err := queue.Open(cfg.Paths.SendQueue)
	if err != nil {
		return fmt.Errorf("failed to open send queue: %w", err)
	}
	defer store.Close()

	approvals, err := approval.OpenRegistry(cfg.Paths.ApprovalDB)
	if err != nil {
		return fmt.Errorf("failed to open approval registry: %w", err)
	}
	defer approvals.Close()

	queueCfg, err := config.LoadQueueFileConfig(cfg.Paths.QueueConfig)
	if err != nil {
		return fmt.Errorf("failed to load queue config: %w", err)
	}

	ks := killswitch.New(cfg.Paths.KillSwitch)
	gate := policy.NewGate(policy.Config{
		EnableAutoSend:   cfg.Policy.EnableAutoSend,
		KillSwitch:       cfg.Policy.KillSwitch,
		AllowlistDomains: cfg.Policy.AllowlistDomains,
		AllowlistEmails:  cfg.Policy.AllowlistEmails,
		MaxPerDay:        cfg.Policy.MaxPerDay,
	})

	if !cfg.IsGmailConfigured() {
		return fmt.Errorf("gmail provider is not configured (need GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET, GMAIL_REFRESH_TOKEN)")
	}

	provider, err := gmail.NewClient(cmd.Context(), &gmail.Config{
		ClientID:       cfg.Gmail.ClientID,
		ClientSecret:   cfg.Gmail.ClientSecret,
		RefreshToken:   cfg.Gmail.RefreshToken,
		AccessToken:    cfg.Gmail.AccessToken,
		UserEmail:      cfg.Gmail.UserEmail,
		RequestTimeout: cfg.Gmail.RequestTimeout,
		RateLimitDelay: cfg.Gmail.RateLimitDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to create gmail client: %w", err)
	}

	logger.Info("Provider client initialized", "user", cfg.Gmail.UserEmail)

	notifier := notify.New(cfg.SlackWebhookURL, logger)
	if notifier.Enabled() {
		logger.Info("Slack notifications enabled")
	}

	retries := retry.DefaultPolicy()
	retries.MaxAttempts = queueCfg.Reaper.MaxAttempts

	dispatcher := workers.NewDispatcher(workers.DispatcherConfig{
		PollInterval:    cfg.Dispatcher.PollInterval,
		ProviderTimeout: cfg.Dispatcher.ProviderTimeout,
	}, store, events, gate, ks, approvals, provider, retries, logger)

	reaper := workers.NewReaper(workers.ReaperConfig{
		StaleMinutes: queueCfg.Reaper.StaleMinutes,
		MaxAttempts:  queueCfg.Reaper.MaxAttempts,
		ReapAction:   queueCfg.Reaper.ReapAction,
	}, store, retries, logger)

	reconciler := reconcile.New(reconcile.Config{
		ProviderTimeout: cfg.Dispatcher.ProviderTimeout,
	}, events, provider, logger)

	autoStop := workers.NewAutoStop(workers.AutoStopConfig{
		WindowDays:      cfg.AutoStop.WindowDays,
		MinSentTotal:    cfg.AutoStop.MinSentTotal,
		ReplyRateMin:    cfg.AutoStop.ReplyRateMin,
		BlockedRateMax:  cfg.AutoStop.BlockedRateMax,
		ConsecutiveDays: cfg.AutoStop.ConsecutiveDays,
		Interval:        cfg.AutoStop.Interval,
	}, events, ks, logger)

	if notifier.Enabled() {
		dispatcher.SetNotifier(notifier)
		reaper.SetNotifier(notifier)
		autoStop.SetNotifier(notifier)
	}

	dispatcher.Start()
	reaper.Start()
	reconciler.Start()
	autoStop.Start()

	logger.Info("All workers started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Received signal, shutting down", "signal", sig.String())

	autoStop.Stop()
	reconciler.Stop()
	reaper.Stop()
	dispatcher.Stop()

	// Give in-flight loops a moment to observe cancellation
	time.Sleep(100 * time.Millisecond)

	logger.Info("sendmand stopped")
	return nil
}
