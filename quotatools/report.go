package quotatools

import (
	"time"

	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/health"
	"github.com/relaycore/relaycore/quota"
	"github.com/relaycore/relaycore/router"
)

// CandidateReport is one row of check_provider_quota's output: everything
// known about a single Candidate without driving a live request.
type CandidateReport struct {
	Candidate    string     `json:"candidate"`
	Family       string     `json:"family"`
	Profile      string     `json:"profile"`
	Circuit      string     `json:"circuit"`
	Remaining    *int64     `json:"remaining,omitempty"`
	Limit        *int64     `json:"limit,omitempty"`
	Display      string     `json:"display"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
}

// Report is the full check_provider_quota payload.
type Report struct {
	Candidates []CandidateReport `json:"candidates"`
}

// BuildReport consults C3 (Health Tracker), C4 (Backoff Store), and the
// Router's last-seen quota snapshot (C2) for every Candidate under family,
// or every family the Router knows when family is empty. It never mutates
// state and never dispatches a request.
func BuildReport(r *router.Router, family string) Report {
	families := []string{family}
	if family == "" {
		families = r.Families()
	}

	rep := Report{}
	for _, f := range families {
		for _, c := range r.Candidates(f) {
			rep.Candidates = append(rep.Candidates, buildCandidateReport(r, c))
		}
	}
	return rep
}

func buildCandidateReport(r *router.Router, c candidate.Candidate) CandidateReport {
	cr := CandidateReport{
		Candidate: c.Key(),
		Family:    c.Family,
		Profile:   c.Profile,
	}

	snap := r.Tracker().Snapshot(c)
	cr.Circuit = snap.Circuit.String()
	if snap.Circuit == health.StateOpen {
		until := snap.Until
		cr.ResetAt = &until
	}
	if snap.LastErrorKind != "" {
		cr.LastError = string(snap.LastErrorKind)
	}

	if d, ok := r.BackoffStore().Get(c); ok {
		until := d.Until
		cr.BackoffUntil = &until
	}

	var m *quota.Metadata
	if ls := r.LastSeenQuota(); ls != nil {
		m, _ = ls.Get(c.Key())
	}
	cr.Display = quota.Format(m)
	if m != nil {
		cr.Remaining = m.Remaining
		cr.Limit = m.Limit
		if m.ResetAt != nil {
			cr.ResetAt = m.ResetAt
		}
	}

	return cr
}
