package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codex-manager/gateway/internal/config"
	"github.com/codex-manager/gateway/internal/cryptostore"
	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwadmin"
	"github.com/codex-manager/gateway/internal/gwmodel"
	"github.com/codex-manager/gateway/internal/gwproxy"
	"github.com/codex-manager/gateway/internal/routing"
	"github.com/codex-manager/gateway/internal/usageclient"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logHandler := events.NewLogHandler(level, 1000)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("gateway starting", "version", version)

	store, err := cryptostore.Open(cfg.DBPath, cfg.MasterKey)
	if err != nil {
		slog.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store ready", "path", cfg.DBPath)

	bus := events.NewBus(200)
	registry := prometheus.NewRegistry()
	engine := routing.New(cfg.RoutingStrategy, bus, registry)

	accounts, err := store.LoadAccounts(context.Background())
	if err != nil {
		slog.Error("initial account load failed", "error", err)
		os.Exit(1)
	}
	usageByID := make(map[uuid.UUID]*gwmodel.UsageSnapshot, len(accounts))
	for _, a := range accounts {
		u, err := store.LoadLatestUsage(context.Background(), a.ID)
		if err != nil {
			slog.Warn("load latest usage failed", "account_id", a.ID.String(), "error", err)
			continue
		}
		if u != nil {
			usageByID[a.ID] = u
		}
	}
	engine.UpdateAccounts(accounts, usageByID)
	slog.Info("routing engine primed", "accounts", len(accounts))

	usage := usageclient.New(cfg.OpenAIBaseURL)
	poller := usageclient.NewPoller(usage, store, store, engine, cfg.UsagePollMinInterval, cfg.UsagePollMaxInterval)
	pollCtx, cancelPoll := context.WithCancel(context.Background())
	defer cancelPoll()
	if err := poller.Start(pollCtx); err != nil {
		slog.Error("usage poller start failed", "error", err)
		os.Exit(1)
	}
	defer poller.Stop()

	proxy := gwproxy.New(cfg, engine, bus, registry, version)
	admin := gwadmin.New(store, engine, usage, proxy, cfg.APIKey, bus, logHandler)
	admin.Register(proxy.Mux())

	if err := proxy.Run(); err != nil {
		slog.Error("proxy server error", "error", err)
		os.Exit(1)
	}
}
