// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package resolver implements the reliability core's Candidate Resolver (C5):
given a logical family and an optional preferred model, it enumerates the
ordered, finite sequence of Candidates the Reliable Router (C6) attempts in
turn, built from the configured credential profiles and per-family model
fallback list.
*/
package resolver
