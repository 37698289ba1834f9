// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides unified LLM provider abstraction for relaycore.

# Overview

The llm package defines the Provider interface every provider family
implements (llm/providers/*), the ChatRequest/ChatResponse/StreamChunk wire
types, and a small set of decorators (ResilientProvider) that can wrap a
Provider with retry/circuit-breaking/idempotency independent of the
candidate-level resolve/admit/invoke/classify/record/rotate loop the
router package (router/router.go) runs above it.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    router.Router (C6)                       │
	│  resolve → admit(gate) → invoke → classify → record → rotate│
	├─────────────────────────────────────────────────────────────┤
	│                    Provider Interface                       │
	├──────────┬──────────┬──────────┬──────────┬────────────────┤
	│  OpenAI  │ Anthropic│  Gemini  │ DeepSeek │    Others...   │
	└──────────┴──────────┴──────────┴──────────┴────────────────┘

# Provider Interface

The core Provider interface defines the contract for all LLM providers:

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	}

# Supported Providers

The package supports 13 LLM provider families out of the box
(llm/providers/*):

  - OpenAI (GPT-4, GPT-4o, GPT-3.5-turbo)
  - Anthropic (Claude, via the Messages API)
  - Google (Gemini Pro, Gemini Ultra)
  - DeepSeek (DeepSeek-Chat, DeepSeek-Coder)
  - Alibaba (Qwen-Turbo, Qwen-Plus, Qwen-Max)
  - Tencent (Hunyuan)
  - Moonshot (Kimi)
  - Zhipu (GLM-4)
  - ByteDance (Doubao)
  - MiniMax
  - Mistral
  - Meta (Llama, via an OpenAI-compatible endpoint)
  - xAI (Grok)

# Usage

Basic usage with a single provider:

	provider, err := openai.NewProvider(&openai.Config{
	    APIKey: "your-api-key",
	    Model:  "gpt-4o",
	})
	if err != nil {
	    log.Fatal(err)
	}

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: []llm.Message{
	        {Role: llm.RoleUser, Content: "Hello!"},
	    },
	})

Resolving across multiple candidates with failover belongs to router.Router
(router/router.go), not to this package — llm only defines the Provider
contract the router dispatches to.

# Streaming

All providers support streaming responses:

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	})
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Error != nil {
	        log.Printf("Error: %v", chunk.Error)
	        break
	    }
	    fmt.Print(chunk.Content)
	}

# Retry and Resilience

ResilientProvider wraps a single Provider with retry, circuit-breaking, and
idempotency, independent of the router's own candidate-level rotation:

	resilient := llm.NewResilientProviderSimple(provider, idempotencyMgr, logger)
	resp, err := resilient.Completion(ctx, req)

This is a standalone decorator for callers that hold a single Provider
directly; router.Router does not wrap candidates in it, since the router's
resolve/admit/invoke/classify/record/rotate loop already covers retry and
circuit-breaking across candidates at the family level (health.Tracker,
backoff.Store).

# Tool Calling

Support for native function calling:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {
	            Name:        "get_weather",
	            Description: "Get current weather for a location",
	            Parameters:  weatherParamsSchema,
	        },
	    },
	})

# Error Handling

The package defines structured error codes:

	const (
	    ErrInvalidRequest      ErrorCode = "invalid_request"
	    ErrAuthentication      ErrorCode = "authentication_error"
	    ErrRateLimit           ErrorCode = "rate_limit"
	    ErrContextTooLong      ErrorCode = "context_too_long"
	    ErrServiceUnavailable  ErrorCode = "service_unavailable"
	)

Use IsRetryable to check if an error can be retried:

	if llm.IsRetryable(err) {
	    // Implement retry logic
	}

# Per-request Credential Override

CredentialOverrideFromContext lets a caller supply a request-scoped API key
that takes precedence over a provider's configured default, without
mutating shared provider state:

	ctx = llm.WithCredentialOverride(ctx, llm.CredentialOverride{APIKey: key})
	resp, err := provider.Completion(ctx, req)

See the subpackages for additional functionality:
  - llm/circuitbreaker: Standalone 3-state circuit breaker used by ResilientProvider
  - llm/retry: Retry strategies and backoff used by ResilientProvider
  - llm/idempotency: Redis-backed and in-memory idempotency managers
  - llm/middleware: Request rewriters applied before building a provider's wire request
  - llm/observability: Cost estimation (estimate_quota_cost)
  - llm/tools: Tool registry and rate limiting
  - llm/providers/*: Provider-specific implementations
*/
package llm
