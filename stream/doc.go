// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package stream implements the reliability core's Stream Pipeline (C7): an
errgroup-supervised relay that forwards a provider adapter's raw stream
channel to the caller while recording exactly one health/backoff outcome
for the owning Candidate, guaranteeing the streaming path shares identical
accounting with the Reliable Router's (C6) synchronous chat path.
*/
package stream
