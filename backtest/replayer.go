package backtest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"dex_go/internal/engine"
	"dex_go/internal/event"
	"dex_go/internal/storage"
)

// Replayer runs the request log through a fresh sequencer and checks that
// every recorded response is reproduced. It is the offline form of the
// determinism contract: same log in, same responses out.
type Replayer struct {
	store *storage.LogStore
}

// NewReplayer opens the request log at dbPath.
func NewReplayer(dbPath string) (*Replayer, error) {
	store, err := storage.NewLogStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Replayer{store: store}, nil
}

// Close releases the underlying log store.
func (r *Replayer) Close() error {
	return r.store.Close()
}

// Verify replays the whole log from sequence 1 and compares each response
// against the recorded one, ignoring timestamps and processing time.
// The sandbox flag must match the recording process, since it decides how
// Reset requests were answered. GetState responses are skipped: a state
// dump is a read, not a transition.
func (r *Replayer) Verify(ctx context.Context, sandbox bool) error {
	requests, err := r.store.LoadRequestsFrom(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to load request log: %w", err)
	}
	if len(requests) == 0 {
		slog.Info("Request log is empty, nothing to verify")
		return nil
	}

	seq := engine.NewSequencer(engine.Config{Sandbox: sandbox}, nil, nil, nil)

	verified := 0
	for _, req := range requests {
		resp := seq.Apply(req)

		recorded, err := r.store.GetResponse(ctx, req.Seq)
		if err != nil {
			return fmt.Errorf("failed to load recorded response %d: %w", req.Seq, err)
		}
		if recorded == nil {
			slog.Warn("No recorded response", slog.Uint64("seq", req.Seq))
			continue
		}
		if req.Kind == event.KindGetState {
			continue
		}

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
		verified++
	}

	slog.Info("Replay verified",
		slog.Int("requests", len(requests)),
		slog.Int("responses_matched", verified))
	return nil
}
