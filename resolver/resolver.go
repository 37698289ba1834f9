package resolver

import (
	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/config"
)

// flatProfile is one (profileName, apiKey) pair after a multi-key profile
// has been split into one entry per raw key, matching the teacher's
// api_keys multi-key convention.
type flatProfile struct {
	name    string
	apiKey  string
	baseURL string
}

// Resolver builds the ordered Candidate sequence for one family from its
// configured profiles and model fallbacks.
type Resolver struct {
	profiles  []flatProfile
	fallbacks []string
}

// New constructs a Resolver for a single family from its ProfilesConfig and
// ModelFallbacksConfig. The default profile (Default: true) sorts first;
// remaining profiles keep their declaration order. A profile declaring
// APIKeys is flattened into one entry per key, in list order.
func New(profiles config.ProfilesConfig, fallbacks config.ModelFallbacksConfig) *Resolver {
	ordered := orderProfiles(profiles.Profiles)

	flat := make([]flatProfile, 0, len(ordered))
	for _, p := range ordered {
		keys := p.APIKeys
		if len(keys) == 0 {
			keys = []string{p.APIKey}
		}
		for _, k := range keys {
			flat = append(flat, flatProfile{name: p.Name, apiKey: k, baseURL: p.BaseURL})
		}
	}

	return &Resolver{profiles: flat, fallbacks: fallbacks.Models}
}

// orderProfiles places the configured default profile first while
// preserving the relative order of everything else.
func orderProfiles(in []config.ProfileConfig) []config.ProfileConfig {
	out := make([]config.ProfileConfig, 0, len(in))
	var def *config.ProfileConfig
	for i := range in {
		if in[i].Default && def == nil {
			d := in[i]
			def = &d
			continue
		}
		out = append(out, in[i])
	}
	if def != nil {
		out = append([]config.ProfileConfig{*def}, out...)
	}
	return out
}

// Sequence returns a finite, ordered, lazy iterator over this family's
// Candidates for the given preferredModel. Call next repeatedly; ok is
// false once the sequence is exhausted. The iterator is not restartable:
// construct a new one (via Sequence) per logical request.
func (r *Resolver) Sequence(family, preferredModel string) (next func() (candidate.Candidate, bool)) {
	models := modelsFor(preferredModel, r.fallbacks)

	profileIdx, modelIdx := 0, 0
	return func() (candidate.Candidate, bool) {
		for profileIdx < len(r.profiles) {
			p := r.profiles[profileIdx]
			if modelIdx >= len(models) {
				profileIdx++
				modelIdx = 0
				continue
			}
			m := models[modelIdx]
			modelIdx++
			return candidate.Candidate{Family: family, Profile: p.name, Model: m}, true
		}
		return candidate.Candidate{}, false
	}
}

// modelsFor computes the per-profile model sequence: just the adapter's
// default (empty Model) when no preferred model was requested, otherwise
// the preferred model followed by the family's fallback list (skipping any
// fallback equal to the preferred model).
func modelsFor(preferredModel string, fallbacks []string) []string {
	if preferredModel == "" {
		return []string{""}
	}
	models := make([]string, 0, len(fallbacks)+1)
	models = append(models, preferredModel)
	for _, m := range fallbacks {
		if m != preferredModel {
			models = append(models, m)
		}
	}
	return models
}

// APIKeyFor returns the raw API key configured for profile, if the
// resolver knows it (used by the router to build a per-attempt adapter
// client). Returns "" if profile is unknown.
func (r *Resolver) APIKeyFor(profile string) string {
	for _, p := range r.profiles {
		if p.name == profile {
			return p.apiKey
		}
	}
	return ""
}

// BaseURLFor returns the configured custom base URL for profile, if any.
func (r *Resolver) BaseURLFor(profile string) string {
	for _, p := range r.profiles {
		if p.name == profile {
			return p.baseURL
		}
	}
	return ""
}

// Len reports the number of flattened profiles (post API-key expansion),
// used by AllExhausted diagnostics and tests.
func (r *Resolver) Len() int {
	return len(r.profiles)
}

// ProfileNames returns the distinct profile names this resolver knows, in
// resolution order, collapsing the per-API-key flattening back down so
// callers that only need an identity (e.g. check_provider_quota) don't see
// one row per raw key.
func (r *Resolver) ProfileNames() []string {
	seen := make(map[string]bool, len(r.profiles))
	names := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		if seen[p.name] {
			continue
		}
		seen[p.name] = true
		names = append(names, p.name)
	}
	return names
}
