// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package quota implements the reliability core's Quota Extractor: a registry
keyed by family alias that maps a provider adapter's raw signals (response
headers, error bodies) to a uniform Metadata record, grounded on the
teacher's MapHTTPError convention in llm/providers/common.go for reading
provider error shapes.
*/
package quota
