// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package health implements the reliability core's admission oracle: a
per-Candidate circuit breaker collapsed to two states (Closed, Open) with
lazy expiry, adapted from the teacher's three-state HTTP circuit breaker in
llm/circuitbreaker. Unlike that breaker, Tracker does not wrap a call — it
is consulted before dispatch (admit) and updated after the fact
(record_success / record_failure), so the router and stream pipeline can
share one handle across both the synchronous and streaming code paths.

# Core types

  - Tracker — process-wide, injected by reference; one fine-grained lock
    per Candidate rather than one lock for the whole map.
  - State — per-Candidate consecutive-failure count, circuit status, and
    last observed error kind.
  - Admission — Admit or Deny(remaining cooldown), returned by Admit.

Every state transition emits a structured zap event and a matching
Prometheus counter/gauge pair, mirroring the observability texture of the
breaker this package supersedes.
*/
package health
