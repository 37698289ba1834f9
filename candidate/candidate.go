// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package candidate defines the unit of health and backoff accounting shared
across the reliability core: a (family, profile, model) triple produced by
the candidate resolver and consumed by the health tracker, backoff store,
reliable router, and stream pipeline.
*/
package candidate

import "fmt"

// Candidate identifies one concrete endpoint+credential combination a
// request can be dispatched against. Two OAuth profiles of the same family
// are independent Candidates; a model fallback on the same profile is a
// distinct Candidate only when Model is set.
type Candidate struct {
	Family  string
	Profile string
	Model   string
}

// Key renders the candidate as a stable map key: "family:profile" or
// "family:profile:model" when a model override is in force.
func (c Candidate) Key() string {
	if c.Model == "" {
		return fmt.Sprintf("%s:%s", c.Family, c.Profile)
	}
	return fmt.Sprintf("%s:%s:%s", c.Family, c.Profile, c.Model)
}

// String implements fmt.Stringer; identical to Key, kept distinct so call
// sites can use %s without caring this is also a map key.
func (c Candidate) String() string {
	return c.Key()
}

// WithModel returns a copy of c bound to the given model fallback.
func (c Candidate) WithModel(model string) Candidate {
	c.Model = model
	return c
}
