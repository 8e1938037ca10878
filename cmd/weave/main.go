package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rosoideae/weave/internal/access"
	"github.com/rosoideae/weave/internal/api"
	"github.com/rosoideae/weave/internal/archive"
	"github.com/rosoideae/weave/internal/bridge"
	"github.com/rosoideae/weave/internal/config"
	"github.com/rosoideae/weave/internal/gateway"
	"github.com/rosoideae/weave/internal/graph"
	"github.com/rosoideae/weave/internal/hub"
	"github.com/rosoideae/weave/internal/relay"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("weave starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authorization collaborator. The identity service plugs in here; by
	// default every authenticated caller is allowed.
	var auth access.Authorizer = access.AllowAll{}

	// Core state.
	g := graph.New(cfg.MaxTextLen, slog.Default())
	h := hub.New(cfg.ChannelHistory, cfg.GlobalBuffer, slog.Default())
	defer h.Close()

	// NATS relay for external score-event listeners.
	relayClient, err := relay.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer relayClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// WebSocket transport.
	gw := gateway.New(h, auth, slog.Default())
	defer gw.CloseAll()

	// Archive (optional — weave works without Postgres, just no durable mirror).
	deliverers := []bridge.Deliverer{gw}
	if cfg.DatabaseURL != "" {
		arch, err := archive.New(ctx, cfg.DatabaseURL, slog.Default())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer arch.Close()
		removeArchive := g.OnEvent(arch.Listener(g.RootOf))
		defer removeArchive()
		deliverers = append(deliverers, arch)
		slog.Info("database connected, archiving enabled")
	} else {
		slog.Warn("DATABASE_URL not set — running without archive")
	}

	// Bridge graph events into hub broadcasts and score events.
	b := bridge.New(g, h, relayClient, slog.Default(), deliverers...)
	removeBridge := b.Attach()
	defer removeBridge()

	// Background liveness sweep.
	go h.RunSweeper(ctx,
		time.Duration(cfg.SweepInterval)*time.Second,
		time.Duration(cfg.StaleThreshold)*time.Minute,
	)

	// HTTP API + WebSocket mount.
	srv := api.NewServer(cfg.Port, cfg.APIToken, g, h, auth, gw.HandleWS, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("weave ready", "port", cfg.Port,
		"channel_history", cfg.ChannelHistory,
		"global_buffer", cfg.GlobalBuffer,
	)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("weave stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
