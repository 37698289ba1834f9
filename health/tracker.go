package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/types"
)

// CircuitState is the admission status of a Candidate.
type CircuitState int

const (
	// StateClosed admits requests normally.
	StateClosed CircuitState = iota
	// StateOpen denies requests until Until elapses.
	StateOpen
)

func (s CircuitState) String() string {
	if s == StateOpen {
		return "Open"
	}
	return "Closed"
}

// State is the per-Candidate health record.
type State struct {
	FailureCount  int
	Circuit       CircuitState
	Until         time.Time // only meaningful while Circuit == StateOpen
	LastErrorKind types.ErrorKind
	LastSuccess   time.Time
	Rotations     uint64
}

// Admission is the result of Admit.
type Admission int

const (
	// Admit permits dispatch to the Candidate.
	Admit Admission = iota
	// Deny rejects dispatch; RemainingCooldown on the caller side reports
	// how long until the circuit may close.
	Deny
)

// Config tunes the circuit breaker. A non-positive FailureThreshold falls
// back to 3; a zero Cooldown is kept (the circuit closes again on the next
// Admit) and a negative one is clamped to zero.
type Config struct {
	// FailureThreshold is the consecutive qualifying-failure count that
	// opens the circuit. Default 3.
	FailureThreshold int
	// Cooldown is how long the circuit stays Open once tripped. Default 60s.
	Cooldown time.Duration
}

// DefaultConfig returns the spec's §6 reliability defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, Cooldown: 60 * time.Second}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	return c
}

// entry pairs a State with its own lock so that two unrelated Candidates
// never contend on the same critical section.
type entry struct {
	mu    sync.Mutex
	state State
}

// Tracker is the process-wide health oracle shared by the router and the
// stream pipeline. Candidates are created lazily on first observation and
// never destroyed before process exit.
type Tracker struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics

	mu      sync.RWMutex // guards entries map membership only
	entries map[string]*entry
}

// NewTracker constructs a Tracker. A nil logger is replaced with a no-op
// logger; Prometheus emission stays disabled until WithMetrics attaches
// collectors.
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: newNopMetrics(),
		entries: make(map[string]*entry),
	}
}

// WithMetrics attaches Prometheus instrumentation. Safe to call once after
// construction; returns the tracker for chaining.
func (t *Tracker) WithMetrics(m *metrics) *Tracker {
	if m != nil {
		t.metrics = m
	}
	return t
}

func (t *Tracker) entryFor(c candidate.Candidate) *entry {
	key := c.Key()

	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; ok {
		return e
	}
	e = &entry{}
	t.entries[key] = e
	return e
}

// Admit is the cheap, O(1) admission check. It lazily transitions an Open
// circuit back to Closed once the cooldown has elapsed.
func (t *Tracker) Admit(c candidate.Candidate) (Admission, time.Duration) {
	e := t.entryFor(c)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Circuit == StateClosed {
		t.metrics.observeCircuitState(c, StateClosed)
		return Admit, 0
	}

	remaining := time.Until(e.state.Until)
	if remaining <= 0 {
		// Lazy expiry: the cooldown has passed: close the circuit and admit.
		e.state.Circuit = StateClosed
		e.state.FailureCount = 0
		t.metrics.observeCircuitState(c, StateClosed)
		t.logger.Info("circuit_closed",
			zap.String("candidate", c.Key()),
			zap.String("reason", "cooldown_elapsed"),
		)
		return Admit, 0
	}

	t.metrics.observeCircuitState(c, StateOpen)
	return Deny, remaining
}

// RecordSuccess clears the failure count and closes the circuit.
func (t *Tracker) RecordSuccess(c candidate.Candidate) {
	e := t.entryFor(c)
	e.mu.Lock()
	wasOpen := e.state.Circuit == StateOpen
	e.state.FailureCount = 0
	e.state.Circuit = StateClosed
	e.state.Until = time.Time{}
	e.state.LastSuccess = time.Now()
	e.mu.Unlock()

	t.metrics.incAttempt(c, "success")
	t.metrics.observeCircuitState(c, StateClosed)
	if wasOpen {
		t.logger.Info("circuit_closed",
			zap.String("candidate", c.Key()),
			zap.String("reason", "success_after_cooldown"),
		)
	}
}

// qualifyingFailure reports whether kind counts toward the circuit's
// consecutive-failure tally. Policy failures (ModelUnsupported,
// NonRetryable, Cancelled) must not poison a healthy endpoint.
func qualifyingFailure(kind types.ErrorKind) bool {
	switch kind {
	case types.KindRateLimited, types.KindTransient, types.KindAuthExpired:
		return true
	default:
		return false
	}
}

// RecordFailure increments the failure count iff kind qualifies, opening
// the circuit once the threshold is crossed.
func (t *Tracker) RecordFailure(c candidate.Candidate, kind types.ErrorKind) {
	if !qualifyingFailure(kind) {
		t.metrics.incAttempt(c, "failure_non_qualifying")
		return
	}

	e := t.entryFor(c)
	e.mu.Lock()
	e.state.FailureCount++
	e.state.LastErrorKind = kind
	opened := false
	if e.state.Circuit == StateClosed && e.state.FailureCount >= t.cfg.FailureThreshold {
		e.state.Circuit = StateOpen
		e.state.Until = time.Now().Add(t.cfg.Cooldown)
		e.state.Rotations++
		opened = true
	}
	failureCount := e.state.FailureCount
	e.mu.Unlock()

	t.metrics.incAttempt(c, "failure")
	if opened {
		t.metrics.observeCircuitState(c, StateOpen)
		t.logger.Warn("circuit_opened",
			zap.String("candidate", c.Key()),
			zap.Int("failure_count", failureCount),
			zap.Int("threshold", t.cfg.FailureThreshold),
			zap.Duration("cooldown", t.cfg.Cooldown),
			zap.String("error_kind", string(kind)),
		)
	}
}

// Snapshot returns a copy of the current State for read-only inspection
// (used by the quota-aware gate and the check_provider_quota tool). The
// zero State is returned for a Candidate never observed.
func (t *Tracker) Snapshot(c candidate.Candidate) State {
	e := t.entryFor(c)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
