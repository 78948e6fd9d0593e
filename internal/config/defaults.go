// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when the tokenizer is unavailable.
const TokenEstimateRatio = 4

// DefaultTokenEncoding is the tiktoken encoding used for estimates.
const DefaultTokenEncoding = "cl100k_base"

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultTokenLimitPerWindow is the token budget per sliding window.
const DefaultTokenLimitPerWindow = 400000

// DefaultUsageWindow is the trailing interval over which token
// consumption is summed for admission control.
const DefaultUsageWindow = 60 * time.Second

// =============================================================================
// CHAT HISTORY
// =============================================================================

// DefaultMemoryLimit is how many prior messages are loaded per turn.
const DefaultMemoryLimit = 10

// DefaultSessionID is used when the caller omits a session id.
const DefaultSessionID = "default"

// =============================================================================
// AGENT LOOP
// =============================================================================

// DefaultMaxToolRounds bounds the model/tool round trips per turn.
const DefaultMaxToolRounds = 8

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o"

// =============================================================================
// FILE UPLOADS
// =============================================================================

// DefaultMaxFileSize is the upload size ceiling (5 MiB).
const DefaultMaxFileSize = 5 * 1024 * 1024

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultListenAddr is the server bind address.
const DefaultListenAddr = ":8000"

// DefaultReadTimeout for the HTTP server.
const DefaultReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultToolHostTimeout is the per-call timeout for tool host requests.
const DefaultToolHostTimeout = 60 * time.Second
