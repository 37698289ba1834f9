// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package router implements the reliability core's Reliable Router (C6): it
accepts a logical family and request, walks the Candidate Resolver's (C5)
ordered sequence, consults the Health Tracker (C3) and Backoff Store (C4)
before each dispatch, classifies the adapter's outcome, and rotates to the
next candidate on a retryable failure. Streaming and non-streaming paths
share identical accounting through the same admission and recording calls;
stream/ supervises the in-flight channel once a candidate's connection is
open.
*/
package router
