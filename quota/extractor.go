package quota

import (
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Extractor maps one family's raw adapter signals to a uniform Metadata.
type Extractor interface {
	// Extract reads quota hints from response headers and an optional body.
	Extract(headers http.Header, body []byte) *Metadata
	// ExtractFromError reads quota hints out of an adapter error, e.g. a
	// rate-limit message embedding a backoff integer.
	ExtractFromError(err error) *Metadata
}

// Registry is the family-alias-keyed Quota Extractor registry (C2).
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	fallback   Extractor
}

// NewRegistry constructs a Registry pre-seeded with the generic
// header-based extractor as the fallback for any family without a
// dedicated entry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
		fallback:   HeaderExtractor{},
	}
}

// Register installs e as the extractor for familyAlias, overriding any
// previous registration (including the fallback) for that alias.
func (r *Registry) Register(familyAlias string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[familyAlias] = e
}

// For returns the extractor registered for familyAlias, or the generic
// header-based fallback when none was registered.
func (r *Registry) For(familyAlias string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[familyAlias]; ok {
		return e
	}
	return r.fallback
}

// HeaderExtractor reads the widely-used X-RateLimit-* / Retry-After header
// convention shared by the OpenAI-compatible family of providers.
type HeaderExtractor struct{}

func (HeaderExtractor) Extract(headers http.Header, _ []byte) *Metadata {
	if headers == nil {
		return nil
	}
	m := &Metadata{}
	any := false

	if v := firstHeader(headers, "X-RateLimit-Remaining", "X-Ratelimit-Remaining-Requests"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			m.Remaining = &n
			any = true
		}
	}
	if v := firstHeader(headers, "X-RateLimit-Limit", "X-Ratelimit-Limit-Requests"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			m.Limit = &n
			any = true
		}
	}
	if v := firstHeader(headers, "X-RateLimit-Reset", "X-Ratelimit-Reset-Requests"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(n, 0)
			m.ResetAt = &t
			any = true
		}
	}
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			d := time.Duration(secs) * time.Second
			m.RetryAfter = &d
			any = true
		}
	}

	if !any {
		return nil
	}
	return m
}

func firstHeader(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// retryAfterInMessage matches a trailing integer count of seconds in a
// rate-limit error message, e.g. Qwen's "please retry after 30 seconds" or
// its Chinese equivalent "请在30秒后重试".
var retryAfterInMessage = regexp.MustCompile(`(\d+)\s*(?:s|sec|second|秒)`)

func (HeaderExtractor) ExtractFromError(err error) *Metadata {
	if err == nil {
		return nil
	}
	match := retryAfterInMessage.FindStringSubmatch(err.Error())
	if match == nil {
		return nil
	}
	secs, parseErr := strconv.ParseInt(match[1], 10, 64)
	if parseErr != nil {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &Metadata{RetryAfter: &d}
}
