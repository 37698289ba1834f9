// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package quotatools implements the reliability core's Quota Tools and CLI
(C9): three agent-invocable tools — check_provider_quota, switch_provider,
and estimate_quota_cost — registered against the teacher-shaped
llm/tools.ToolRegistry and wrapped by the idempotency manager so repeated
tool-call rounds within a short TTL return a cached result instead of
re-querying live state.
*/
package quotatools
