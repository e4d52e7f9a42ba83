package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipwave/streamsync/internal/backoff"
	"github.com/pipwave/streamsync/internal/channel"
	"github.com/pipwave/streamsync/internal/config"
	"github.com/pipwave/streamsync/internal/engine"
	"github.com/pipwave/streamsync/internal/feed"
	"github.com/pipwave/streamsync/internal/lifecycle"
	"github.com/pipwave/streamsync/internal/metrics"
	"github.com/pipwave/streamsync/internal/probe"
	"github.com/pipwave/streamsync/internal/refresh"
	"github.com/pipwave/streamsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"backend_url", cfg.Backend.RestURL,
		"ws_url", cfg.Backend.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Metrics collector
	collector := metrics.NewCollector("streamsync")

	// REST client and snapshot store
	feedClient := feed.NewClient(
		cfg.Backend.RestURL,
		cfg.Backend.APIKey,
		feed.WithLogger(logger),
		feed.WithTimeout(cfg.Backend.Timeout),
		feed.WithRetries(cfg.Backend.MaxRetries, time.Second),
	)
	store := feed.NewStore(feed.StoreConfig{
		SignalLimit:          cfg.Store.SignalLimit,
		Pairs:                cfg.Store.Pairs,
		MaxConcurrentFetches: cfg.Store.MaxConcurrentFetches,
	}, feedClient, logger)

	// Refresh dispatcher feeding the store
	dispatcher := refresh.NewDispatcher(refresh.Config{
		Debounce:       cfg.Refresh.Debounce,
		InvalidateWait: cfg.Refresh.InvalidateWait,
	}, store, allResources, logger)

	// Realtime channel transport and topic registry
	transport := channel.NewTransport(channel.TransportConfig{
		URL:               cfg.Backend.WSURL,
		APIKey:            cfg.Backend.APIKey,
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout,
		WriteTimeout:      cfg.Channel.WriteTimeout,
		ReplyTimeout:      cfg.Channel.ReplyTimeout,
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Channel.HeartbeatTimeout,
		BufferSize:        cfg.Channel.BufferSize,
	}, logger)

	reconnect := backoff.Config{
		Base:        cfg.Reconnect.BaseDelay,
		Max:         cfg.Reconnect.MaxDelay,
		CapExponent: cfg.Reconnect.CapExponent,
		JitterFrac:  cfg.Reconnect.Jitter,
	}

	registry := channel.NewRegistry(channel.RegistryConfig{
		JoinTimeout:  cfg.Channel.JoinTimeout,
		RetryBackoff: reconnect,
	}, transport, logger)

	// Connectivity probe against the backend REST surface
	prober := probe.NewProbe(probe.Config{
		HealthURL:           cfg.HealthURL(),
		CheckInterval:       cfg.Probe.CheckInterval,
		CheckTimeout:        cfg.Probe.CheckTimeout,
		NetworkPollInterval: cfg.Probe.NetworkPollInterval,
	}, probe.InterfaceSource{}, logger)

	// Wake detector for suspend/resume recovery
	wake := lifecycle.NewWakeDetector(lifecycle.Config{
		TickInterval: cfg.Wake.TickInterval,
		WakeGap:      cfg.Wake.WakeGap,
	}, logger)
	if err := wake.Start(ctx); err != nil {
		logger.Error("failed to start wake detector", "error", err)
		os.Exit(1)
	}

	// Connection engine
	eng := engine.NewEngine(engine.Config{Backoff: reconnect}, engine.Deps{
		Transport: transport,
		Registry:  registry,
		Probe:     prober,
		Refresh:   dispatcher,
		Lifecycle: wake,
		Metrics:   collector,
	}, logger)

	unsubscribe := eng.OnStateChange(func(st engine.State) {
		logger.Info("connection state",
			"online", st.Online,
			"channel", st.Channel.String(),
			"attempt", st.Attempt,
			"topics", len(st.ActiveTopics),
		)
	})
	defer unsubscribe()

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(eng, store, collector, cfg.Metrics.Path),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// Watch the tables the store mirrors. The handlers only trace; the
	// refresh dispatcher does the actual re-fetching.
	for _, table := range allResources() {
		topic := channel.Topic{
			ID:     table,
			Filter: channel.Filter{Table: table},
			Handler: func(ch channel.Change) {
				logger.Debug("change received",
					"topic", ch.TopicID,
					"kind", ch.Kind,
					"table", ch.Table,
				)
			},
		}
		if _, err := eng.Register(topic); err != nil {
			logger.Error("failed to register topic", "topic", table, "error", err)
			os.Exit(1)
		}
	}

	// Seed the store so data is served even before the channel connects.
	// A failure here is not fatal: starting offline is a supported state
	// and the first successful connect triggers a full refresh anyway.
	seedCtx, seedCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := store.Invalidate(seedCtx, nil); err != nil {
		logger.Warn("initial snapshot fetch failed", "error", err)
	} else {
		stats := store.Stats()
		logger.Info("initial snapshot loaded",
			"signals", stats.Signals,
			"ticks", stats.Ticks,
		)
	}
	seedCancel()

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/healthz", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop", "error", err)
	}
	wake.Stop(shutdownCtx)
	dispatcher.Close()

	logger.Info("syncd stopped")
}

// allResources lists the refresh keys for a full snapshot reload.
func allResources() []string {
	return []string{feed.ResourceSignals, feed.ResourceTicks}
}

// createHealthHandler serves health, metrics, and debug endpoints.
func createHealthHandler(eng engine.Engine, store *feed.Store, collector *metrics.Collector, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, collector.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := eng.Snapshot()

		status := "degraded"
		switch {
		case st.Channel == engine.StatusSubscribed:
			status = "healthy"
		case !st.Online:
			status = "offline"
		}

		health := struct {
			Status  string          `json:"status"`
			Version string          `json:"version"`
			Channel engine.State    `json:"channel"`
			Store   feed.StoreStats `json:"store"`
		}{
			Status:  status,
			Version: version.Version,
			Channel: st,
			Store:   store.Stats(),
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "offline" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/signals", func(w http.ResponseWriter, r *http.Request) {
		signals := store.Signals()

		limit := 100
		total := len(signals)
		if total > limit {
			signals = signals[:limit]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   total,
			"showing": len(signals),
			"signals": signals,
		})
	})

	return mux
}
