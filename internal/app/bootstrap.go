package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dex_go/internal/event"
	"dex_go/internal/infra"
	"dex_go/internal/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config      *infra.Config
	Store       *storage.LogStore
	Checkpoints *storage.CheckpointManager

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, dirs, log store).
func (b *Bootstrap) Initialize() error {
	slog.Info("Bootstrapping DEX sequencer...")

	// 0. Runtime Warmup (GC Optimization)
	event.Warmup()

	// 1. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		cfg = infra.DefaultConfig()
		slog.Info("No config file found, using defaults")
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Data isolation: sandbox and live state never share a directory.
	mode := "live"
	if cfg.Sequencer.Sandbox {
		mode = "sandbox"
	}

	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", mode)
	logDir := filepath.Join(workDir, "logs", mode)

	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	// 3.1 Singleton instance lock. A second sequencer over the same
	// request log would fork the sequence.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 4. Request/response log (single-writer WAL DB)
	dbPath := filepath.Join(dataDir, "requests.db")
	store, err := storage.NewLogStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("Log store initialized (WAL-mode)", "path", dbPath, "mode", mode)

	// 5. Checkpoint manager
	b.Checkpoints = storage.NewCheckpointManager(filepath.Join(dataDir, "checkpoints"))

	return nil
}

// Close releases the log store and the instance lock.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Error("Failed to close log store", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}
