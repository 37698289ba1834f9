package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relaycore/backoff"
	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/config"
	"github.com/relaycore/relaycore/health"
	"github.com/relaycore/relaycore/quota"
)

// Reason enumerates the conditions the gate can warn on. More than one may
// apply to a single PreFlight call; Advisory.Reasons carries all of them.
type Reason string

const (
	// ReasonCircuitOpen means the candidate's circuit is presently Open.
	ReasonCircuitOpen Reason = "circuit_open"
	// ReasonActiveBackoff means a RateLimited backoff deadline is in force.
	ReasonActiveBackoff Reason = "active_backoff"
	// ReasonLowQuotaRatio means remaining/limit fell under the configured
	// ratio (default 10%).
	ReasonLowQuotaRatio Reason = "low_quota_ratio"
	// ReasonInsufficientQuota means remaining quota is under the number of
	// tool calls about to be issued.
	ReasonInsufficientQuota Reason = "insufficient_quota"
)

// Advisory is the gate's output: a non-blocking, best-effort warning.
type Advisory struct {
	Candidate string
	Reasons   []Reason
}

// Warranted reports whether any condition held.
func (a Advisory) Warranted() bool {
	return len(a.Reasons) > 0
}

// Gate is the process-wide Quota-Aware Gate. It is constructed with shared
// handles to the same Health Tracker, Backoff Store, and last-seen quota
// store the Reliable Router uses, so its advisories reflect live state.
type Gate struct {
	tracker  *health.Tracker
	backoff  *backoff.Store
	lastSeen *quota.LastSeenStore
	cfg      config.ReliabilityConfig
	logger   *zap.Logger
}

// New constructs a Gate. Any of tracker, backoffStore, or lastSeen may be
// nil — the corresponding check is then skipped rather than failing.
func New(tracker *health.Tracker, backoffStore *backoff.Store, lastSeen *quota.LastSeenStore, cfg config.ReliabilityConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{tracker: tracker, backoff: backoffStore, lastSeen: lastSeen, cfg: cfg, logger: logger}
}

// defaultParallelWarningThreshold is the spec's default N: the gate is
// meant to be invoked immediately before issuing at least this many
// parallel tool calls.
const defaultParallelWarningThreshold = 5

const defaultLowQuotaRatio = 0.10

// PreFlight evaluates c against the shared health/backoff/quota state ahead
// of issuing parallelCount tool calls. It never blocks: the caller receives
// an Advisory to surface out-of-band (structured log, UI banner, etc.) and
// proceeds regardless. A Gate constructed with g == nil is itself a legal,
// always-silent no-op, matching the spec's "absence of config disables the
// gate" rule for call sites without configuration context.
func (g *Gate) PreFlight(ctx context.Context, c candidate.Candidate, parallelCount int) Advisory {
	adv := Advisory{Candidate: c.Key()}
	if g == nil {
		return adv
	}

	threshold := g.cfg.ParallelWarningThreshold
	if threshold <= 0 {
		threshold = defaultParallelWarningThreshold
	}
	if parallelCount < threshold {
		return adv
	}

	if g.tracker != nil {
		if snap := g.tracker.Snapshot(c); snap.Circuit == health.StateOpen {
			adv.Reasons = append(adv.Reasons, ReasonCircuitOpen)
		}
	}

	if g.backoff != nil {
		if d, ok := g.backoff.Get(c); ok && time.Until(d.Until) > 0 {
			adv.Reasons = append(adv.Reasons, ReasonActiveBackoff)
		}
	}

	if g.lastSeen != nil {
		if m, ok := g.lastSeen.Get(c.Key()); ok && m != nil {
			ratio := g.cfg.LowQuotaRatio
			if ratio <= 0 {
				ratio = defaultLowQuotaRatio
			}
			if m.Remaining != nil && m.Limit != nil && *m.Limit > 0 {
				if float64(*m.Remaining)/float64(*m.Limit) < ratio {
					adv.Reasons = append(adv.Reasons, ReasonLowQuotaRatio)
				}
			}
			if m.Remaining != nil && int(*m.Remaining) < parallelCount {
				adv.Reasons = append(adv.Reasons, ReasonInsufficientQuota)
			}
		}
	}

	if adv.Warranted() {
		g.logger.Warn("quota_gate_advisory",
			zap.String("candidate", c.Key()),
			zap.Int("parallel_count", parallelCount),
			zap.Any("reasons", adv.Reasons),
		)
	}
	return adv
}
