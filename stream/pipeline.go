package stream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/relaycore/relaycore/backoff"
	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/classify"
	"github.com/relaycore/relaycore/health"
	"github.com/relaycore/relaycore/llm"
	"github.com/relaycore/relaycore/quota"
	"github.com/relaycore/relaycore/types"
)

// Pipeline relays one Candidate's stream, recording its outcome against the
// shared Health Tracker and Backoff Store exactly once, however the
// upstream channel ends (clean close, mid-stream error chunk, or context
// cancellation).
type Pipeline struct {
	tracker      *health.Tracker
	backoffStore *backoff.Store
	lastSeen     *quota.LastSeenStore
	logger       *zap.Logger
}

// NewPipeline constructs a Pipeline sharing the same tracker, backoff store,
// and last-seen-quota store instances as the Reliable Router, so a
// candidate that fails mid-stream opens the same circuit a failed
// synchronous call would, and a quota hint on the terminal chunk is visible
// to the same readers as a chat response's would be. lastSeen may be nil,
// in which case terminal-chunk quota hints are simply discarded.
func NewPipeline(tracker *health.Tracker, store *backoff.Store, lastSeen *quota.LastSeenStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{tracker: tracker, backoffStore: store, lastSeen: lastSeen, logger: logger}
}

// Relay consumes src (the adapter's raw stream channel for Candidate c) and
// returns a channel the caller can range over. The returned channel is
// closed exactly when src closes or ctx is cancelled; in every case the
// Candidate's health outcome is recorded exactly once via a sync.Once
// guard, before the channel closes.
func (p *Pipeline) Relay(ctx context.Context, c candidate.Candidate, src <-chan llm.StreamChunk) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)

	var once sync.Once
	var lastQuota *quota.Metadata
	record := func(err error) {
		once.Do(func() {
			if err == nil {
				p.tracker.RecordSuccess(c)
				p.backoffStore.ClearNonStrict(c)
				if p.lastSeen != nil {
					p.lastSeen.Record(c.Key(), lastQuota)
				}
				return
			}
			kind, terr := classify.Classify(ctx, err)
			p.tracker.RecordFailure(c, kind)
			if kind == types.KindRateLimited && terr != nil && terr.RetryAfter > 0 {
				p.backoffStore.Set(c, time.Now().Add(terr.RetryAfter), backoff.RetryAfterHeader)
			}
			p.logger.Info("stream_relay_ended",
				zap.String("candidate", c.Key()),
				zap.String("kind", string(kind)),
			)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		var lastErr error
		for {
			select {
			case <-gctx.Done():
				record(gctx.Err())
				return gctx.Err()
			case chunk, ok := <-src:
				if !ok {
					record(lastErr)
					return lastErr
				}
				if chunk.Err != nil {
					lastErr = chunk.Err
				}
				if chunk.Quota != nil {
					lastQuota = chunk.Quota
				}
				select {
				case out <- chunk:
				case <-gctx.Done():
					record(gctx.Err())
					return gctx.Err()
				}
			}
		}
	})

	go func() { _ = g.Wait() }()
	return out
}
