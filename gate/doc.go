// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package gate implements the reliability core's Quota-Aware Gate (C8): an
advisory, never-blocking pre-flight check the agent loop may call before
issuing a burst of parallel tool calls against one provider Candidate. It
consults the Health Tracker (C3), Backoff Store (C4), and the Router's
last-seen quota snapshot (C2); absence of any of these simply disables the
corresponding check rather than failing the call.
*/
package gate
