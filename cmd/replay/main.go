package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"dex_go/backtest"
)

func main() {
	dbPath := flag.String("db", "requests.db", "path to the request log database")
	sandbox := flag.Bool("sandbox", false, "the log was recorded in sandbox mode")
	flag.Parse()

	replayer, err := backtest.NewReplayer(*dbPath)
	if err != nil {
		slog.Error("Failed to open request log", slog.Any("error", err))
		os.Exit(1)
	}
	defer replayer.Close()

	if err := replayer.Verify(context.Background(), *sandbox); err != nil {
		slog.Error("Replay verification failed", slog.Any("error", err))
		os.Exit(1)
	}
}
