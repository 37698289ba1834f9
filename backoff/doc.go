// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package backoff implements the reliability core's Backoff Store: an
LRU- and TTL-bounded map from Candidate to a next-eligible wall-clock
deadline. It generalises the doubly-linked-list LRU shape the teacher used
for its prompt cache, keying on a Candidate instead of a prompt hash.

Deadlines only move forward while in force — a later write never relaxes an
earlier, stricter one — so the store's monotonicity invariant holds
regardless of which caller races to set it.
*/
package backoff
