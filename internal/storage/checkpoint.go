package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dex_go/internal/domain"
)

// Checkpoint is a point-in-time capture of the sequencer state, taken
// after the request at Seq was applied. Recovery loads the latest
// checkpoint and replays the request log suffix on top of it.
type Checkpoint struct {
	Seq   uint64
	State *domain.SequencerState
}

// CheckpointManager handles saving and loading checkpoints.
type CheckpointManager struct {
	dir string
}

// NewCheckpointManager creates a new checkpoint manager.
// dir: directory to store checkpoint files.
func NewCheckpointManager(dir string) *CheckpointManager {
	return &CheckpointManager{dir: dir}
}

// Save writes a checkpoint to disk. The file is written to a temp name
// and renamed so a crash mid-write never leaves a readable partial file.
func (cm *CheckpointManager) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(cm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	filename := fmt.Sprintf("checkpoint_%d_%d.bin", cp.Seq, time.Now().Unix())
	path := filepath.Join(cm.dir, filename)
	tmpPath := path + ".tmp"

	data := EncodeCheckpoint(cp)
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		slog.Uint64("seq", cp.Seq),
		slog.Int("bytes", len(data)),
		slog.String("path", path))

	return nil
}

// LoadLatest loads the checkpoint with the highest sequence number.
// Returns nil if no checkpoint exists.
func (cm *CheckpointManager) LoadLatest() (*Checkpoint, error) {
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No checkpoints yet
		}
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}

	var latestPath string
	var latestSeq uint64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		var seq uint64
		var ts int64
		_, err := fmt.Sscanf(entry.Name(), "checkpoint_%d_%d.bin", &seq, &ts)
		if err != nil {
			continue // Not a checkpoint file
		}

		if latestPath == "" || seq > latestSeq {
			latestSeq = seq
			latestPath = filepath.Join(cm.dir, entry.Name())
		}
	}

	if latestPath == "" {
		return nil, nil // No checkpoints found
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	cp, err := DecodeCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", latestPath, err)
	}

	slog.Info("Checkpoint loaded",
		slog.Uint64("seq", cp.Seq),
		slog.String("path", latestPath))

	return cp, nil
}

// Cleanup removes old checkpoints, keeping only the latest N.
func (cm *CheckpointManager) Cleanup(keepCount int) error {
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type cpFile struct {
		path string
		seq  uint64
	}
	var files []cpFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "checkpoint_%d_%d.bin", &seq, &ts); err == nil {
			files = append(files, cpFile{
				path: filepath.Join(cm.dir, entry.Name()),
				seq:  seq,
			})
		}
	}

	if len(files) <= keepCount {
		return nil
	}

	// Simple bubble sort (small N)
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].seq > files[i].seq {
				files[i], files[j] = files[j], files[i]
			}
		}
	}

	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old checkpoint", slog.String("path", files[i].path))
		} else {
			slog.Info("Removed old checkpoint", slog.String("path", files[i].path))
		}
	}

	return nil
}
