package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"auction_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Pprof server, localhost only.
	go func() {
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The hotpath loop: every state change passes through here.
	go bootstrap.Sequencer.Run(ctx)
	slog.InfoContext(ctx, "✅ Sequencer (hotpath) started")

	bootstrap.Query.Start(ctx)

	bootstrap.StartFeeds(ctx)
	defer bootstrap.StopFeeds()

	slog.InfoContext(ctx, "✨ Auction engine fully operational. Press Ctrl+C to exit.")

	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
