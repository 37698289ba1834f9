package router

import (
	"context"
	"fmt"
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/relaycore/relaycore/audit"
	"github.com/relaycore/relaycore/backoff"
	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/classify"
	"github.com/relaycore/relaycore/config"
	"github.com/relaycore/relaycore/health"
	"github.com/relaycore/relaycore/llm"
	"github.com/relaycore/relaycore/llm/factory"
	"github.com/relaycore/relaycore/quota"
	"github.com/relaycore/relaycore/resolver"
	"github.com/relaycore/relaycore/stream"
	"github.com/relaycore/relaycore/types"
)

// ProviderBuilder constructs a llm.Provider for one (family, profile)
// credential pair. Overridable for tests; defaults to the teacher's
// llm/factory.NewProviderFromConfig.
type ProviderBuilder func(family, apiKey, baseURL string, logger *zap.Logger) (llm.Provider, error)

// Router is the process-wide Reliable Router (C6): one instance is shared
// by every logical family, dispatching through the Candidate Resolver
// (C5), the Health Tracker (C3), and the Backoff Store (C4).
type Router struct {
	resolvers map[string]*resolver.Resolver

	tracker      *health.Tracker
	backoffStore *backoff.Store
	audit        audit.Sink
	cfg          config.ReliabilityConfig
	logger       *zap.Logger
	tracer       trace.Tracer

	buildProvider ProviderBuilder
	providersMu   map[string]llm.Provider
	pipeline      *stream.Pipeline
	lastSeen      *quota.LastSeenStore
}

// LastSeenQuota exposes the Router's shared last-observed-quota store, read
// by the quota-aware gate (C8) and the check_provider_quota tool (C9).
func (r *Router) LastSeenQuota() *quota.LastSeenStore {
	return r.lastSeen
}

// Tracker exposes the Router's shared Health Tracker, read by C8 and C9.
func (r *Router) Tracker() *health.Tracker {
	return r.tracker
}

// BackoffStore exposes the Router's shared Backoff Store, read by C8 and C9.
func (r *Router) BackoffStore() *backoff.Store {
	return r.backoffStore
}

// Families returns every logical family this Router has a configured
// resolver for, in no particular order.
func (r *Router) Families() []string {
	families := make([]string, 0, len(r.resolvers))
	for family := range r.resolvers {
		families = append(families, family)
	}
	return families
}

// Candidates returns the base (model-less) Candidate for every profile
// configured under family, for use by diagnostics that report per-Candidate
// health without driving a real request.
func (r *Router) Candidates(family string) []candidate.Candidate {
	res, ok := r.resolvers[family]
	if !ok {
		return nil
	}
	names := res.ProfileNames()
	out := make([]candidate.Candidate, 0, len(names))
	for _, name := range names {
		out = append(out, candidate.Candidate{Family: family, Profile: name})
	}
	return out
}

// New constructs a Router from the full application configuration. A nil
// logger falls back to zap.NewNop(); a nil audit sink falls back to
// audit.NopSink{}.
func New(cfg *config.Config, tracker *health.Tracker, store *backoff.Store, sink audit.Sink, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	resolvers := make(map[string]*resolver.Resolver, len(cfg.Profiles))
	for family, profiles := range cfg.Profiles {
		resolvers[family] = resolver.New(profiles, cfg.ModelFallbacks[family])
	}

	lastSeen := quota.NewLastSeenStore()

	return &Router{
		resolvers:    resolvers,
		tracker:      tracker,
		backoffStore: store,
		audit:        sink,
		cfg:          cfg.Reliability,
		logger:       logger.With(zap.String("component", "router")),
		tracer:       otel.Tracer("github.com/relaycore/relaycore/router"),
		buildProvider: func(family, apiKey, baseURL string, logger *zap.Logger) (llm.Provider, error) {
			return factory.NewProviderFromConfig(family, factory.ProviderConfig{
				APIKey:  apiKey,
				BaseURL: baseURL,
			}, logger)
		},
		providersMu: make(map[string]llm.Provider),
		pipeline:    stream.NewPipeline(tracker, store, lastSeen, logger),
		lastSeen:    lastSeen,
	}
}

// providerFor lazily builds (and caches) the adapter for a Candidate's
// (family, profile) pair. The model override is not part of the cache key:
// it is applied per request on the outgoing ChatRequest instead.
func (r *Router) providerFor(c candidate.Candidate) (llm.Provider, error) {
	res, ok := r.resolvers[c.Family]
	if !ok {
		return nil, fmt.Errorf("router: no profiles configured for family %q", c.Family)
	}

	key := c.Family + ":" + c.Profile
	if p, ok := r.providersMu[key]; ok {
		return p, nil
	}

	apiKey := res.APIKeyFor(c.Profile)
	baseURL := res.BaseURLFor(c.Profile)
	p, err := r.buildProvider(c.Family, apiKey, baseURL, r.logger)
	if err != nil {
		return nil, fmt.Errorf("router: build provider for %s: %w", c.Key(), err)
	}
	r.providersMu[key] = p
	return p, nil
}

// allExhaustedErr constructs the composite error returned when a Router
// call has walked every Candidate in the resolver's sequence (or the
// family has none configured) without success.
func allExhaustedErr(family string, attempts int, last error, lastKind types.ErrorKind) *types.Error {
	e := types.NewError(types.ErrServiceUnavailable, fmt.Sprintf("all candidates exhausted for family %q after %d attempt(s)", family, attempts)).
		WithKind(types.KindAllExhausted).
		WithRetryable(false)
	if last != nil {
		e = e.WithCause(last)
	}
	if lastKind != "" {
		e.Message += fmt.Sprintf(" (last: %s)", lastKind)
	}
	return e
}

// newInterCandidateBackoff builds the cenkalti/backoff/v5 exponential
// sequence used between candidates, per the spec's exact constants rather
// than the library's own defaults.
func (r *Router) newInterCandidateBackoff() *cenkaltibackoff.ExponentialBackOff {
	base := time.Duration(r.cfg.BackoffBaseMs) * time.Millisecond
	cap_ := time.Duration(r.cfg.BackoffCapMs) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap_ <= 0 {
		cap_ = 8 * time.Second
	}
	jitter := r.cfg.BackoffJitterRatio
	if jitter <= 0 {
		jitter = 0.2
	}
	return cenkaltibackoff.NewExponentialBackOff(
		cenkaltibackoff.WithInitialInterval(base),
		cenkaltibackoff.WithMaxInterval(cap_),
		cenkaltibackoff.WithMultiplier(2.0),
		cenkaltibackoff.WithRandomizationFactor(jitter),
	)
}

func nextDelay(eb *cenkaltibackoff.ExponentialBackOff) time.Duration {
	d, err := eb.NextBackOff()
	if err != nil {
		return 0
	}
	return d
}

// waitOrCancel sleeps d unless ctx is cancelled first, in which case it
// returns ctx.Err().
func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// logAttempt emits the per-attempt structured event and a best-effort
// audit row, matching §4.6's observable side-effect contract.
func (r *Router) logAttempt(ctx context.Context, c candidate.Candidate, attempt int, outcome, reason string, remaining time.Duration) {
	fields := []zap.Field{
		zap.String("candidate", c.Key()),
		zap.Int("attempt", attempt),
		zap.String("outcome", outcome),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if remaining > 0 {
		fields = append(fields, zap.Duration("remaining_cooldown", remaining))
	}
	r.logger.Info("router_attempt", fields...)

	r.audit.Append(ctx, audit.Event{
		Family:    c.Family,
		Candidate: c.Key(),
		Attempt:   attempt,
		Outcome:   outcome,
		Kind:      reason,
	})
}

// Chat implements the chat(request) operation of §4.6: it walks the
// resolved Candidate sequence for family, admitting through the Health
// Tracker and Backoff Store, dispatching through the first viable adapter,
// and rotating on a retryable classified failure.
func (r *Router) Chat(ctx context.Context, family string, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	res, ok := r.resolvers[family]
	if !ok || res.Len() == 0 {
		return nil, allExhaustedErr(family, 0, nil, "")
	}

	preferredModel := req.Model
	next := res.Sequence(family, preferredModel)
	eb := r.newInterCandidateBackoff()

	attempt := 0
	var lastErr error
	var lastKind types.ErrorKind

	for {
		c, ok := next()
		if !ok {
			break
		}
		attempt++

		if admission, remaining := r.tracker.Admit(c); admission == health.Deny {
			r.logAttempt(ctx, c, attempt, "denied", "circuit_open", remaining)
			continue
		}
		if d, ok := r.backoffStore.Get(c); ok {
			if wait := time.Until(d.Until); wait > 0 {
				r.logAttempt(ctx, c, attempt, "denied", "backoff_active", wait)
				continue
			}
		}

		provider, err := r.providerFor(c)
		if err != nil {
			lastErr, lastKind = err, types.KindNonRetryable
			r.logAttempt(ctx, c, attempt, "failure", "provider_unavailable", 0)
			continue
		}

		attemptReq := *req
		if c.Model != "" {
			attemptReq.Model = c.Model
		}

		attemptCtx, span := r.tracer.Start(ctx, "router.chat.attempt",
			trace.WithAttributes(
				attribute.String("candidate", c.Key()),
				attribute.Int("attempt", attempt),
			),
		)
		resp, callErr := provider.Completion(attemptCtx, &attemptReq)
		span.End()

		if callErr == nil {
			r.tracker.RecordSuccess(c)
			r.backoffStore.ClearNonStrict(c)
			r.lastSeen.Record(c.Key(), resp.Quota)
			r.logAttempt(ctx, c, attempt, "success", "", 0)
			return resp, nil
		}

		kind, terr := classify.Classify(attemptCtx, callErr)
		lastErr, lastKind = callErr, kind
		r.tracker.RecordFailure(c, kind)
		r.logAttempt(ctx, c, attempt, "failure", string(kind), 0)

		switch kind {
		case types.KindCancelled:
			return nil, callErr
		case types.KindRateLimited, types.KindTransient, types.KindAuthExpired, types.KindModelUnsupported:
			explicitRetryAfter := terr != nil && terr.RetryAfter > 0
			if kind == types.KindRateLimited && explicitRetryAfter {
				r.backoffStore.Set(c, time.Now().Add(terr.RetryAfter), backoff.RetryAfterHeader)
				// The failing candidate's own deadline belongs to it alone;
				// the next candidate is tried immediately.
				continue
			}
			if err := waitOrCancel(ctx, nextDelay(eb)); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, callErr
		}
	}

	exhausted := allExhaustedErr(family, attempt, lastErr, lastKind)
	r.logAttempt(ctx, candidate.Candidate{Family: family}, attempt, "all_exhausted", string(lastKind), 0)
	return nil, exhausted
}

// Stream implements the stream(request) operation of §4.6: it rotates
// candidates exactly like Chat until one adapter accepts the connection
// (i.e. Stream returns without a synchronous handshake error), then hands
// the raw channel to the Stream Pipeline (C7) so the rest of the response
// shares identical health and backoff accounting with the chat path. Once
// a connection is open, a mid-stream failure is recorded by the pipeline
// and is not retried at this layer — there is no way to "undo" partial
// output already forwarded to the caller.
func (r *Router) Stream(ctx context.Context, family string, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	res, ok := r.resolvers[family]
	if !ok || res.Len() == 0 {
		return nil, allExhaustedErr(family, 0, nil, "")
	}

	preferredModel := req.Model
	next := res.Sequence(family, preferredModel)
	eb := r.newInterCandidateBackoff()

	attempt := 0
	var lastErr error
	var lastKind types.ErrorKind

	for {
		c, ok := next()
		if !ok {
			break
		}
		attempt++

		if admission, remaining := r.tracker.Admit(c); admission == health.Deny {
			r.logAttempt(ctx, c, attempt, "denied", "circuit_open", remaining)
			continue
		}
		if d, ok := r.backoffStore.Get(c); ok {
			if wait := time.Until(d.Until); wait > 0 {
				r.logAttempt(ctx, c, attempt, "denied", "backoff_active", wait)
				continue
			}
		}

		provider, err := r.providerFor(c)
		if err != nil {
			lastErr, lastKind = err, types.KindNonRetryable
			r.logAttempt(ctx, c, attempt, "failure", "provider_unavailable", 0)
			continue
		}

		attemptReq := *req
		if c.Model != "" {
			attemptReq.Model = c.Model
		}

		attemptCtx, span := r.tracer.Start(ctx, "router.chat.attempt",
			trace.WithAttributes(
				attribute.String("candidate", c.Key()),
				attribute.Int("attempt", attempt),
				attribute.Bool("stream", true),
			),
		)
		src, callErr := provider.Stream(attemptCtx, &attemptReq)
		span.End()

		if callErr == nil {
			r.logAttempt(ctx, c, attempt, "success", "", 0)
			return r.pipeline.Relay(ctx, c, src), nil
		}

		kind, terr := classify.Classify(attemptCtx, callErr)
		lastErr, lastKind = callErr, kind
		r.tracker.RecordFailure(c, kind)
		r.logAttempt(ctx, c, attempt, "failure", string(kind), 0)

		switch kind {
		case types.KindCancelled:
			return nil, callErr
		case types.KindRateLimited, types.KindTransient, types.KindAuthExpired, types.KindModelUnsupported:
			explicitRetryAfter := terr != nil && terr.RetryAfter > 0
			if kind == types.KindRateLimited && explicitRetryAfter {
				r.backoffStore.Set(c, time.Now().Add(terr.RetryAfter), backoff.RetryAfterHeader)
				continue
			}
			if err := waitOrCancel(ctx, nextDelay(eb)); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, callErr
		}
	}

	exhausted := allExhaustedErr(family, attempt, lastErr, lastKind)
	r.logAttempt(ctx, candidate.Candidate{Family: family}, attempt, "all_exhausted", string(lastKind), 0)
	return nil, exhausted
}
