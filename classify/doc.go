// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package classify maps a provider adapter error onto the reliability core's
closed ErrorKind taxonomy (types.ErrorKind). It is shared by the Reliable
Router (C6) and the Stream Pipeline (C7) so that a failure occurring
mid-stream is classified identically to one returned from a synchronous
Completion call, grounded on the teacher's ErrorCode classification in
llm/providers/common.go.MapHTTPError.
*/
package classify
