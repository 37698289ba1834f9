package quota

import "sync"

// LastSeenStore holds the most recently observed Metadata per Candidate key,
// so the quota-aware gate (C8) and the check_provider_quota tool (C9) can
// read a best-effort snapshot without re-querying any provider.
type LastSeenStore struct {
	mu   sync.RWMutex
	seen map[string]*Metadata
}

// NewLastSeenStore constructs an empty store.
func NewLastSeenStore() *LastSeenStore {
	return &LastSeenStore{seen: make(map[string]*Metadata)}
}

// Record stores m as the latest Metadata observed for candidateKey. A nil m
// is a no-op: an adapter that could not derive anything does not overwrite
// a previous, still-useful observation.
func (s *LastSeenStore) Record(candidateKey string, m *Metadata) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[candidateKey] = m
}

// Get returns the last observed Metadata for candidateKey, if any.
func (s *LastSeenStore) Get(candidateKey string) (*Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.seen[candidateKey]
	return m, ok
}
