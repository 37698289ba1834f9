package quotatools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relaycore/audit"
	"github.com/relaycore/relaycore/llm"
	"github.com/relaycore/relaycore/llm/idempotency"
	"github.com/relaycore/relaycore/llm/tools"
	"github.com/relaycore/relaycore/router"
)

// llmToolSchema builds a llm.ToolSchema from a literal JSON Schema string,
// matching the teacher's ToolSchema.Parameters convention (json.RawMessage,
// not a typed struct).
func llmToolSchema(name, description, paramsJSON string) llm.ToolSchema {
	return llm.ToolSchema{
		Name:        name,
		Description: description,
		Parameters:  json.RawMessage(paramsJSON),
	}
}

// idempotencyTTL bounds how long a duplicate tool-call round within the
// agent loop is served from cache before falling through to a live read
// again.
const idempotencyTTL = 30 * time.Second

// CheckProviderQuotaArgs is check_provider_quota's input; Provider is
// optional and, when empty, reports every configured family.
type CheckProviderQuotaArgs struct {
	Provider string `json:"provider,omitempty"`
}

// SwitchProviderArgs is switch_provider's input.
type SwitchProviderArgs struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SwitchProviderResult acknowledges the declared intent; the agent loop is
// responsible for actually changing the active provider on its next turn.
type SwitchProviderResult struct {
	Acknowledged bool   `json:"acknowledged"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
}

// EstimateQuotaCostArgs is estimate_quota_cost's input. Provider is an
// additive hint (not part of the spec's minimal {operation,
// estimated_tokens, parallel_count} surface) used only to look up a
// usd_estimate; omitting it still produces expected_requests/
// expected_tokens.
type EstimateQuotaCostArgs struct {
	Operation       string `json:"operation"`
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	ParallelCount   int    `json:"parallel_count,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
}

const (
	checkProviderQuotaParams = `{"type":"object","properties":{"provider":{"type":"string","description":"logical family to report on; omit for all"}}}`
	switchProviderParams     = `{"type":"object","properties":{"provider":{"type":"string"},"model":{"type":"string"},"reason":{"type":"string"}},"required":["provider"]}`
	estimateQuotaCostParams  = `{"type":"object","properties":{"operation":{"type":"string"},"estimated_tokens":{"type":"integer"},"prompt":{"type":"string"},"parallel_count":{"type":"integer"},"provider":{"type":"string"},"model":{"type":"string"}},"required":["operation"]}`
)

// Register installs the three quota tools against registry, each wrapped
// by idem so a duplicate (tool name, canonical args) round within
// idempotencyTTL returns the cached result instead of re-querying live
// state. sink receives a best-effort audit row for every switch_provider
// call; a nil sink is replaced with audit.NopSink{}.
func Register(registry tools.ToolRegistry, idem idempotency.Manager, r *router.Router, sink audit.Sink, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	if err := registry.Register("check_provider_quota", idempotent(idem, "check_provider_quota", func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args CheckProviderQuotaArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("check_provider_quota: invalid args: %w", err)
			}
		}
		return json.Marshal(BuildReport(r, args.Provider))
	}), tools.ToolMetadata{
		Schema: llmToolSchema("check_provider_quota", "Reports circuit state, backoff, and last-seen quota per provider candidate. Never mutates state.", checkProviderQuotaParams),
	}); err != nil {
		return err
	}

	if err := registry.Register("switch_provider", idempotent(idem, "switch_provider", func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args SwitchProviderArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("switch_provider: invalid args: %w", err)
		}
		if args.Provider == "" {
			return nil, fmt.Errorf("switch_provider: provider is required")
		}
		sink.Append(ctx, audit.Event{
			Family:    args.Provider,
			Candidate: args.Provider + ":" + args.Model,
			Outcome:   "switch_intent",
			Reason:    args.Reason,
		})
		logger.Info("switch_provider_intent",
			zap.String("provider", args.Provider),
			zap.String("model", args.Model),
			zap.String("reason", args.Reason),
		)
		return json.Marshal(SwitchProviderResult{Acknowledged: true, Provider: args.Provider, Model: args.Model})
	}), tools.ToolMetadata{
		Schema: llmToolSchema("switch_provider", "Declares intent to switch the active provider/model on the next turn. Does not switch mid-call.", switchProviderParams),
	}); err != nil {
		return err
	}

	if err := registry.Register("estimate_quota_cost", idempotent(idem, "estimate_quota_cost", func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args EstimateQuotaCostArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("estimate_quota_cost: invalid args: %w", err)
		}
		result := EstimateCost(args.Provider, args.Model, args.EstimatedTokens, args.Prompt, args.ParallelCount)
		return json.Marshal(result)
	}), tools.ToolMetadata{
		Schema: llmToolSchema("estimate_quota_cost", "Pure function estimating expected requests/tokens/cost for a planned operation.", estimateQuotaCostParams),
	}); err != nil {
		return err
	}

	return nil
}

// idempotent wraps fn so that a repeated call with byte-identical args
// within idempotencyTTL short-circuits to the cached result. A nil idem
// disables caching (every call falls through).
func idempotent(idem idempotency.Manager, name string, fn tools.ToolFunc) tools.ToolFunc {
	if idem == nil {
		return fn
	}
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		key, err := idem.GenerateKey(name, string(args))
		if err == nil {
			if cached, ok, _ := idem.Get(ctx, key); ok {
				return cached, nil
			}
		}
		result, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		if key != "" {
			_ = idem.Set(ctx, key, result, idempotencyTTL)
		}
		return result, nil
	}
}
