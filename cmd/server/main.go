// Command server exposes the ops HTTP surface: health, control-plane
// status, queue statistics and kill-switch control.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"outreach-control/internal/config"
	"outreach-control/internal/handlers"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
	"outreach-control/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

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

	ks := killswitch.New(cfg.Paths.KillSwitch)
	gate := policy.NewGate(policy.Config{
		EnableAutoSend:   cfg.Policy.EnableAutoSend,
		KillSwitch:       cfg.Policy.KillSwitch,
		AllowlistDomains: cfg.Policy.AllowlistDomains,
		AllowlistEmails:  cfg.Policy.AllowlistEmails,
		MaxPerDay:        cfg.Policy.MaxPerDay,
	})

	ops := handlers.NewOpsHandler(store, events, ks, gate, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewRouter(ops),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.HandleSignals(srv, 30*time.Second, logger)
}
