package quota

import (
	"strconv"
	"time"
)

// Metadata is the uniform, best-effort quota record attached to a
// successful response. All fields are optional; nil means "not derivable
// from this provider's response."
type Metadata struct {
	Remaining  *int64
	Limit      *int64
	ResetAt    *time.Time
	RetryAfter *time.Duration
}

// Equal reports whether two Metadata values describe the same quota state,
// used by the extractor's round-trip idempotence property (§8, property 9).
func (m *Metadata) Equal(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	if !equalInt64Ptr(m.Remaining, other.Remaining) {
		return false
	}
	if !equalInt64Ptr(m.Limit, other.Limit) {
		return false
	}
	if (m.ResetAt == nil) != (other.ResetAt == nil) {
		return false
	}
	if m.ResetAt != nil && !m.ResetAt.Equal(*other.ResetAt) {
		return false
	}
	if (m.RetryAfter == nil) != (other.RetryAfter == nil) {
		return false
	}
	if m.RetryAfter != nil && *m.RetryAfter != *other.RetryAfter {
		return false
	}
	return true
}

func equalInt64Ptr(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// Format renders Metadata for display in the check_provider_quota tool and
// the CLI's text mode: "remaining/limit" when both are known, "?/limit"
// when only the limit is known, and "Unknown" when neither is.
func Format(m *Metadata) string {
	if m == nil {
		return "Unknown"
	}
	switch {
	case m.Remaining != nil && m.Limit != nil:
		return strconv.FormatInt(*m.Remaining, 10) + "/" + strconv.FormatInt(*m.Limit, 10)
	case m.Limit != nil:
		return "?/" + strconv.FormatInt(*m.Limit, 10)
	default:
		return "Unknown"
	}
}
