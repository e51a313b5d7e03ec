package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dex_go/internal/app"
	"dex_go/internal/engine"
	"dex_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config
	infra.PrintBanner(cfg)

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Sequencer: recover from checkpoint + log, then run the hotpath.
	seq := engine.NewSequencer(engine.Config{
		InboxSize:          cfg.Sequencer.InboxSize,
		Sandbox:            cfg.Sequencer.Sandbox,
		CheckpointInterval: cfg.Sequencer.CheckpointInterval,
	}, bootstrap.Store, bootstrap.Checkpoints, nil)

	if err := seq.Recover(ctx); err != nil {
		slog.Error("Recovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	go seq.Run(ctx)
	slog.InfoContext(ctx, "Sequencer (Hotpath) started",
		slog.Uint64("next_seq", seq.NextSeq()),
		slog.Bool("sandbox", cfg.Sequencer.Sandbox))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("Shutting down gracefully...")
	if err := seq.Checkpoint(); err != nil {
		slog.Error("Final checkpoint failed", slog.Any("error", err))
	}
	if err := bootstrap.Checkpoints.Cleanup(cfg.Sequencer.CheckpointKeep); err != nil {
		slog.Error("Checkpoint cleanup failed", slog.Any("error", err))
	}
}
