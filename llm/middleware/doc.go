// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package middleware provides request rewriting for outbound LLM chat requests,
applied by family adapters before a request is marshaled onto the wire.

# Core types

  - RequestRewriter: interface with Rewrite and Name methods.
  - RewriterChain: runs a sequence of RequestRewriters in order.
  - EmptyToolsCleaner: clears ToolChoice when Tools is empty, since some upstream APIs reject tool_choice without tools.
*/
package middleware
