package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"sync"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/internal/storage"
	"dex_go/pkg/quant"
)

// metaLastCheckpointSeq marks the newest checkpoint in the log store, so
// recovery can tell a long replay apart from a lost checkpoint file.
const metaLastCheckpointSeq = "last_checkpoint_seq"

// Config controls the sequencer runtime behavior.
type Config struct {
	InboxSize          int
	Sandbox            bool   // enables Reset and GetState
	CheckpointInterval uint64 // requests between checkpoints, 0 disables
}

// Sequencer is the core single-threaded request processor. All state
// transitions happen on the Run goroutine; requests are durable in the
// log before they are applied, so a replay of the log reproduces the
// exact same responses.
type Sequencer struct {
	inbox       chan *event.Request
	state       *domain.SequencerState
	nextSeq     uint64
	store       *storage.LogStore
	checkpoints *storage.CheckpointManager
	cfg         Config

	// Boundary: used to hand responses to the output side
	onResponse func(*event.Response)

	mu sync.RWMutex // Used only for external reads (e.g. gateway queries)
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(cfg Config, store *storage.LogStore, checkpoints *storage.CheckpointManager, onResponse func(*event.Response)) *Sequencer {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &Sequencer{
		inbox:       make(chan *event.Request, cfg.InboxSize),
		state:       domain.NewSequencerState(),
		nextSeq:     1,
		store:       store,
		checkpoints: checkpoints,
		cfg:         cfg,
		onResponse:  onResponse,
	}
}

// Inbox returns the request channel. External gateways send requests here.
func (s *Sequencer) Inbox() chan<- *event.Request {
	return s.inbox
}

// NextSeq is the sequence number the next request must carry.
func (s *Sequencer) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// Recover restores state from the latest checkpoint, then replays the
// request log suffix through the same Apply path used live. Replayed
// responses are validated against the recorded ones; a divergence means
// the code no longer reproduces its own history and recovery fails.
func (s *Sequencer) Recover(ctx context.Context) error {
	if s.checkpoints != nil {
		cp, err := s.checkpoints.LoadLatest()
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil {
			s.state = cp.State
			s.nextSeq = cp.Seq + 1
		}
	}

	if s.store == nil {
		slog.Info("No store configured, starting fresh")
		return nil
	}

	if v, err := s.store.GetMetadata(ctx, metaLastCheckpointSeq); err == nil && v != "" {
		if recorded, perr := strconv.ParseUint(v, 10, 64); perr == nil && recorded >= s.nextSeq {
			slog.Warn("Newest checkpoint file predates the last recorded checkpoint",
				slog.Uint64("recorded_seq", recorded),
				slog.Uint64("replaying_from", s.nextSeq))
		}
	}

	requests, err := s.store.LoadRequestsFrom(ctx, s.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load requests: %w", err)
	}
	if len(requests) == 0 {
		slog.Info("Request log is empty past checkpoint, nothing to replay",
			slog.Uint64("next_seq", s.nextSeq))
		return nil
	}

	slog.Info("Replaying requests from log", slog.Int("count", len(requests)))

	for _, req := range requests {
		if req.Seq != s.nextSeq {
			return fmt.Errorf("request log gap: expected %d, got %d", s.nextSeq, req.Seq)
		}
		resp := s.Apply(req)

		recorded, err := s.store.GetResponse(ctx, req.Seq)
		if err != nil {
			return fmt.Errorf("failed to load recorded response %d: %w", req.Seq, err)
		}
		if recorded == nil {
			// Crash happened between request and response persistence.
			if err := s.store.SaveResponse(ctx, resp); err != nil {
				return fmt.Errorf("failed to backfill response %d: %w", req.Seq, err)
			}
		} else if req.Kind != event.KindGetState {
			got, err := resp.CanonicalJSON()
			if err != nil {
				return fmt.Errorf("failed to canonicalize response %d: %w", req.Seq, err)
			}
			want, err := recorded.CanonicalJSON()
			if err != nil {
				return fmt.Errorf("failed to canonicalize recorded response %d: %w", req.Seq, err)
			}
			if !bytes.Equal(got, want) {
				return fmt.Errorf("REPLAY_DIVERGENCE at seq %d: recorded %s, replayed %s", req.Seq, want, got)
			}
		}
		s.nextSeq++
	}

	slog.Info("State recovered from log", slog.Uint64("next_seq", s.nextSeq))
	return nil
}

// validateSequence checks the incoming sequence number against the
// expected one. Duplicates are ignored, gaps halt the process: skipping
// a request would silently fork the state from the log.
func (s *Sequencer) validateSequence(seq uint64) bool {
	expected := s.nextSeq
	if seq == expected {
		return true
	}
	if seq < expected {
		slog.Warn("SEQUENCE_DUPLICATE_IGNORED", slog.Uint64("expected", expected), slog.Uint64("got", seq))
		return false
	}
	panic(fmt.Sprintf("SEQUENCE_GAP_FATAL: expected %d, got %d", expected, seq))
}

// Run starts the main request loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started (Single-Thread Hotpath)", slog.Bool("sandbox", s.cfg.Sandbox))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case req := <-s.inbox:
			s.processRequest(req)
		}
	}
}

func (s *Sequencer) processRequest(req *event.Request) {
	// 1. Sequence check (duplicates dropped, gaps halt)
	if !s.validateSequence(req.Seq) {
		return
	}

	// 2. WAL-first: the request is durable before it mutates anything
	if s.store != nil {
		if err := s.store.SaveRequest(context.Background(), req); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	// 3. Apply
	s.mu.Lock()
	resp := s.Apply(req)
	s.nextSeq++
	s.mu.Unlock()

	// 4. Record the outcome at the same sequence number
	if s.store != nil {
		if err := s.store.SaveResponse(context.Background(), resp); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	if s.cfg.CheckpointInterval > 0 && s.checkpoints != nil && req.Seq%s.cfg.CheckpointInterval == 0 {
		if err := s.checkpoints.Save(&storage.Checkpoint{Seq: req.Seq, State: s.state}); err != nil {
			slog.Error("Failed to save checkpoint", slog.Any("error", err))
		} else {
			s.recordCheckpointSeq(req.Seq)
		}
	}

	if s.onResponse != nil {
		s.onResponse(resp)
	}
}

// Apply runs one request against the state and produces its response.
// It never touches persistence: live processing, recovery and offline
// replay all funnel through here.
func (s *Sequencer) Apply(req *event.Request) *event.Response {
	start := time.Now()
	resp := &event.Response{Seq: req.Seq, Guid: req.Guid}

	switch req.Kind {
	case event.KindAddMarket:
		s.applyAddMarket(req, resp)
	case event.KindOrderBatch:
		s.applyOrderBatch(req, resp)
	case event.KindBackToBackOrder:
		s.applyBackToBackOrder(req, resp)
	case event.KindBalanceBatch:
		s.applyBalanceBatch(req, resp)
	case event.KindSetFeeRates:
		s.applySetFeeRates(req, resp)
	case event.KindSetWithdrawalFees:
		s.applySetWithdrawalFees(req, resp)
	case event.KindSetMarketMinFees:
		s.applySetMarketMinFees(req, resp)
	case event.KindReset:
		if s.cfg.Sandbox {
			s.state.Reset()
		} else {
			resp.Error = event.ErrUnknownRequest
		}
	case event.KindGetState:
		if s.cfg.Sandbox {
			resp.StateDump = s.buildStateDump()
		} else {
			resp.Error = event.ErrUnknownRequest
		}
	default:
		resp.Error = event.ErrUnknownRequest
	}

	resp.CreatedAt = quant.TimeStamp(time.Now().UnixNano())
	resp.ProcessingTimeNs = time.Since(start).Nanoseconds()
	return resp
}

// Checkpoint persists the current state at the last applied sequence.
// Called on graceful shutdown so the next start replays a short suffix.
func (s *Sequencer) Checkpoint() error {
	if s.checkpoints == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.nextSeq - 1
	if err := s.checkpoints.Save(&storage.Checkpoint{Seq: seq, State: s.state}); err != nil {
		return err
	}
	s.recordCheckpointSeq(seq)
	return nil
}

// recordCheckpointSeq keeps the checkpoint high-water mark next to the
// logs. Failing to record it is not fatal; the mark only feeds a
// recovery-time warning.
func (s *Sequencer) recordCheckpointSeq(seq uint64) {
	if s.store == nil {
		return
	}
	err := s.store.UpsertMetadata(context.Background(), metaLastCheckpointSeq,
		strconv.FormatUint(seq, 10), time.Now().UnixNano())
	if err != nil {
		slog.Warn("Failed to record checkpoint sequence", slog.Any("error", err))
	}
}

// GetBalance is an external read of one balance (e.g. for a gateway).
func (s *Sequencer) GetBalance(wallet domain.WalletId, asset domain.Asset) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.state.GetBalance(wallet, asset))
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64           `json:"nextSeq"`
		State   *event.StateDump `json:"state"`
	}{
		NextSeq: s.nextSeq,
		State:   s.buildStateDump(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
