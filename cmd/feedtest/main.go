// feedtest connects to the backend, dumps the current data snapshot, then
// streams live change events to the console. It drives the REST client and
// the raw channel transport directly, without the reconnection engine, so it
// is useful for checking credentials and backend behavior in isolation.
//
// Usage: go run ./cmd/feedtest --config configs/syncd.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pipwave/streamsync/internal/channel"
	"github.com/pipwave/streamsync/internal/config"
	"github.com/pipwave/streamsync/internal/feed"
)

func main() {
	configPath := flag.String("config", "configs/syncd.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full change JSON")
	stream := flag.Bool("stream", true, "stay connected and stream changes")
	tables := flag.String("tables", "signals,price_ticks", "comma-separated tables to watch")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := feed.NewClient(
		cfg.Backend.RestURL,
		cfg.Backend.APIKey,
		feed.WithLogger(logger),
		feed.WithTimeout(cfg.Backend.Timeout),
	)

	// Snapshot dump
	logger.Info("fetching snapshot", "url", cfg.Backend.RestURL)

	signals, err := client.GetActiveSignals(ctx)
	if err != nil {
		logger.Error("failed to fetch signals", "error", err)
		os.Exit(1)
	}
	for _, sig := range signals {
		fmt.Printf("[SIGNAL] %s %s %s entry=%d sl=%d targets=%v confidence=%d\n",
			sig.ID, sig.Pair, sig.Direction, sig.Entry, sig.StopLoss, sig.TakeProfits, sig.Confidence)
	}

	ticks, err := client.GetLatestTicks(ctx, cfg.Store.Pairs)
	if err != nil {
		logger.Error("failed to fetch ticks", "error", err)
		os.Exit(1)
	}
	for _, tick := range ticks {
		fmt.Printf("[TICK] %s bid=%d ask=%d spread=%d\n",
			tick.Pair, tick.Bid, tick.Ask, tick.Spread())
	}

	logger.Info("snapshot complete", "signals", len(signals), "ticks", len(ticks))

	if !*stream {
		return
	}

	// Live stream over the raw transport. No reconnection here: when the
	// session drops, report why and exit.
	transport := channel.NewTransport(channel.TransportConfig{
		URL:               cfg.Backend.WSURL,
		APIKey:            cfg.Backend.APIKey,
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout,
		WriteTimeout:      cfg.Channel.WriteTimeout,
		ReplyTimeout:      cfg.Channel.ReplyTimeout,
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Channel.HeartbeatTimeout,
	}, logger)

	logger.Info("opening channel", "url", cfg.Backend.WSURL)
	if err := transport.Open(ctx); err != nil {
		logger.Error("failed to open channel", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	watched := strings.Split(*tables, ",")
	for _, table := range watched {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		joinCtx, joinCancel := context.WithTimeout(ctx, cfg.Channel.JoinTimeout)
		err := transport.Join(joinCtx, table, channel.Filter{Table: table})
		joinCancel()
		if err != nil {
			logger.Error("failed to join topic", "table", table, "error", err)
			os.Exit(1)
		}
		logger.Info("watching table", "table", table)
	}

	fmt.Println("streaming started - press Ctrl+C to stop")

	var changes int
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("received %d changes in %s\n", changes, time.Since(start).Round(time.Second))
			return
		case ev, ok := <-transport.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case channel.EventOpened:
				fmt.Printf("[OPENED] %s\n", ev.At.Format(time.RFC3339))
			case channel.EventClosed:
				if ev.Err != nil {
					logger.Error("channel closed", "error", ev.Err)
				} else {
					logger.Info("channel closed")
				}
				fmt.Printf("received %d changes in %s\n", changes, time.Since(start).Round(time.Second))
				return
			case channel.EventChange:
				changes++
				printChange(ev.Change, *verbose)
			}
		}
	}
}

func printChange(ch channel.Change, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ch, "", "  ")
		fmt.Printf("[CHANGE] %s\n", data)
		return
	}
	fmt.Printf("[CHANGE] table=%s kind=%s topic=%s bytes=%d\n",
		ch.Table, ch.Kind, ch.TopicID, len(ch.Record))
}
